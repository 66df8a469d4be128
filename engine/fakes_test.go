package engine

import (
	"context"
	"image"
)

// fakeDevice records calls and delegates to optional func fields. A nil
// field means the operation succeeds.
type fakeDevice struct {
	connected   []string
	taps        []Point
	swipes      [][5]int
	screenshots []string
	restarts    []string

	connectFn    func(deviceID string) error
	tapFn        func(x, y int) error
	swipeFn      func(x1, y1, x2, y2, durationMs int) error
	screenshotFn func(savePath string) error
	restartFn    func(packageName string) error
}

func (f *fakeDevice) Connect(_ context.Context, deviceID string) error {
	f.connected = append(f.connected, deviceID)
	if f.connectFn != nil {
		return f.connectFn(deviceID)
	}
	return nil
}

func (f *fakeDevice) Tap(_ context.Context, x, y int) error {
	f.taps = append(f.taps, Point{X: x, Y: y})
	if f.tapFn != nil {
		return f.tapFn(x, y)
	}
	return nil
}

func (f *fakeDevice) Swipe(_ context.Context, x1, y1, x2, y2, durationMs int) error {
	f.swipes = append(f.swipes, [5]int{x1, y1, x2, y2, durationMs})
	if f.swipeFn != nil {
		return f.swipeFn(x1, y1, x2, y2, durationMs)
	}
	return nil
}

func (f *fakeDevice) Screenshot(_ context.Context, savePath string) error {
	f.screenshots = append(f.screenshots, savePath)
	if f.screenshotFn != nil {
		return f.screenshotFn(savePath)
	}
	return nil
}

func (f *fakeDevice) RestartApp(_ context.Context, packageName string) error {
	f.restarts = append(f.restarts, packageName)
	if f.restartFn != nil {
		return f.restartFn(packageName)
	}
	return nil
}

var blankImage = image.NewRGBA(image.Rect(0, 0, 1, 1))

// fakeVision answers recognition queries from func fields. Nil fields mean
// "image loads, nothing matches, no text".
type fakeVision struct {
	loaded []string

	loadFn    func(path string) (image.Image, error)
	matchFn   func(threshold float64) (Point, bool)
	extractFn func(lang string) (string, error)
	locateFn  func(target, lang string) (Point, bool, string)
}

func (f *fakeVision) LoadImage(path string) (image.Image, error) {
	f.loaded = append(f.loaded, path)
	if f.loadFn != nil {
		return f.loadFn(path)
	}
	return blankImage, nil
}

func (f *fakeVision) MatchTemplate(_, _ image.Image, threshold float64) (Point, bool) {
	if f.matchFn != nil {
		return f.matchFn(threshold)
	}
	return Point{}, false
}

func (f *fakeVision) ExtractText(_ image.Image, lang string) (string, error) {
	if f.extractFn != nil {
		return f.extractFn(lang)
	}
	return "", nil
}

func (f *fakeVision) LocateText(_ image.Image, target, lang string) (Point, bool, string) {
	if f.locateFn != nil {
		return f.locateFn(target, lang)
	}
	return Point{}, false, ""
}
