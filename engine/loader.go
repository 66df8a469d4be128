package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSequence reads an ordered task list from a YAML file. Unknown fields
// land in each task's inline Params map, so sequences written by newer
// editors survive a load/save cycle intact.
func LoadSequence(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}

	var tasks []Task
	if err := yaml.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("unmarshalling task file: %w", err)
	}
	return tasks, nil
}

// SaveSequence writes the task list back out in the persisted format.
func SaveSequence(path string, tasks []Task) error {
	data, err := yaml.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("marshalling tasks: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing task file: %w", err)
	}
	return nil
}
