package engine

// Task type tags. LOOP and END_LOOP are control markers resolved by the
// execution loop; everything else dispatches to an action variant.
const (
	TypeClick           = "click"
	TypeLongPress       = "long_press"
	TypeScreenshot      = "screenshot"
	TypeWait            = "wait"
	TypeSetVariable     = "set_variable"
	TypeSwipe           = "swipe"
	TypeOCR             = "ocr"
	TypeFindAndClickOne = "find_and_click_one"
	TypeRestartApp      = "restart_app"
	TypeLoop            = "LOOP"
	TypeEndLoop         = "END_LOOP"
)

// Task is one declarative step in an automation sequence.
//
// Common fields are explicit; action-specific parameters (coordinates, image
// paths, durations, ...) stay in the inline Params map and are decoded into
// typed param structs by the dispatcher. The inline map also preserves fields
// this engine does not know about, so a sequence written by a newer editor
// round-trips losslessly.
type Task struct {
	Type           string  `yaml:"type" json:"type" validate:"required"`
	Description    string  `yaml:"description,omitempty" json:"description,omitempty"`
	WaitForSuccess bool    `yaml:"wait_for_success,omitempty" json:"wait_for_success,omitempty"`
	ContinueOnFail bool    `yaml:"continue_on_fail,omitempty" json:"continue_on_fail,omitempty"`
	PrintLog       bool    `yaml:"print_log,omitempty" json:"print_log,omitempty"`
	EnableTimer    bool    `yaml:"enable_timer,omitempty" json:"enable_timer,omitempty"`
	PreCondition   string  `yaml:"pre_condition,omitempty" json:"pre_condition,omitempty"`
	PostAction     string  `yaml:"post_action,omitempty" json:"post_action,omitempty"`
	OnFailAction   string  `yaml:"on_fail_action,omitempty" json:"on_fail_action,omitempty"`
	Retries        int     `yaml:"retries,omitempty" json:"retries,omitempty" validate:"gte=0"`
	Timeout        float64 `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"gte=0"`

	// Params holds the action-specific fields (x, y, targets, duration, ...).
	Params map[string]any `yaml:",inline" json:"params,omitempty"`
}

// IsControl reports whether the task is a loop boundary marker.
func (t *Task) IsControl() bool {
	return t.Type == TypeLoop || t.Type == TypeEndLoop
}

// Label returns the task description, or its type when unlabeled. Used in
// logs, statistics keys, and failure messages.
func (t *Task) Label() string {
	if t.Description != "" {
		return t.Description
	}
	return t.Type
}
