package sge

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// QueueSpec maps one scheduler queue to the tools routed to it.
type QueueSpec struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

// Config routes tools to SGE queues. Queues are evaluated in the order they
// appear in the file.
type Config struct {
	DefaultQueue string      `yaml:"default_queue"`
	Queues       []QueueSpec `yaml:"queues"`
}

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening sge config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("error parsing sge config %v: %w", path, err)
	}

	if config.DefaultQueue == "" {
		return nil, fmt.Errorf("sge config %v does not name a default queue", path)
	}

	return &config, nil
}

// SelectQueue picks the queue for a tool. Non-default queues are scanned in
// configured order, every match overwriting the previous selection, so when
// a tool is listed under several queues the last one wins. Tool names match
// case-insensitively. Tools listed under no queue land on the default.
func (c *Config) SelectQueue(tool string) string {
	selected := c.DefaultQueue
	for _, queue := range c.Queues {
		if strings.EqualFold(queue.Name, c.DefaultQueue) {
			continue
		}
		for _, candidate := range queue.Tools {
			if strings.EqualFold(candidate, tool) {
				selected = queue.Name
			}
		}
	}
	return selected
}
