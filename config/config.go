// Package config loads the list of watched forum threads.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"forum-notifier/pkg/notifier"
)

// Config is the parsed forum file. Forums, subforums and threads keep the
// order they appear in the file.
type Config struct {
	Forums []Forum
}

// Forum is one forum site.
type Forum struct {
	Name      string
	BaseURL   string
	Subforums []Subforum
}

// Subforum is one board of a forum with the threads watched in it.
type Subforum struct {
	Name    string
	ID      string
	Threads []string
}

// Load reads and parses the configuration file at path.
func Load(path string, logger *slog.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, logger)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a forum file. Forums without a baseurl and subforums
// without an id are skipped with a warning.
func Parse(data []byte, logger *slog.Logger) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("empty configuration")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: top level must be a mapping of forum names", root.Line)
	}

	cfg := &Config{}
	seen := make(map[string]string) // thread ID -> forum
	for i := 0; i+1 < len(root.Content); i += 2 {
		name, body := root.Content[i].Value, root.Content[i+1]
		forum, ok := parseForum(name, body, logger)
		if !ok {
			continue
		}
		for j := range forum.Subforums {
			forum.Subforums[j].Threads = dedupeThreads(forum, forum.Subforums[j], seen, logger)
		}
		cfg.Forums = append(cfg.Forums, forum)
	}
	return cfg, nil
}

func parseForum(name string, body *yaml.Node, logger *slog.Logger) (Forum, bool) {
	forum := Forum{Name: name}
	if body.Kind != yaml.MappingNode {
		logger.Warn("Skipping forum, expected a mapping", "forum", name, "line", body.Line)
		return forum, false
	}

	var subforums []*yaml.Node
	for i := 0; i+1 < len(body.Content); i += 2 {
		key, value := body.Content[i], body.Content[i+1]
		if key.Value == "baseurl" {
			forum.BaseURL = strings.TrimSpace(value.Value)
			continue
		}
		subforums = append(subforums, key, value)
	}

	if forum.BaseURL == "" {
		logger.Warn("Skipping forum without baseurl", "forum", name, "line", body.Line)
		return forum, false
	}
	u, err := url.Parse(forum.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		logger.Warn("Skipping forum with invalid baseurl", "forum", name, "baseurl", forum.BaseURL)
		return forum, false
	}

	for i := 0; i+1 < len(subforums); i += 2 {
		sub, ok := parseSubforum(name, subforums[i].Value, subforums[i+1], logger)
		if ok {
			forum.Subforums = append(forum.Subforums, sub)
		}
	}
	return forum, true
}

func parseSubforum(forum, name string, body *yaml.Node, logger *slog.Logger) (Subforum, bool) {
	sub := Subforum{Name: name}
	if body.Kind != yaml.MappingNode {
		logger.Warn("Skipping subforum, expected a mapping", "forum", forum, "subforum", name, "line", body.Line)
		return sub, false
	}

	var threads *yaml.Node
	for i := 0; i+1 < len(body.Content); i += 2 {
		key, value := body.Content[i], body.Content[i+1]
		switch key.Value {
		case "id":
			if value.Kind == yaml.ScalarNode && value.Tag != "!!null" {
				sub.ID = strings.TrimSpace(value.Value)
			}
		case "threads":
			threads = value
		default:
			logger.Debug("Ignoring unknown subforum key", "forum", forum, "subforum", name, "key", key.Value)
		}
	}

	if sub.ID == "" {
		logger.Warn("Skipping subforum without id", "forum", forum, "subforum", name, "line", body.Line)
		return sub, false
	}

	if threads == nil || threads.Tag == "!!null" {
		return sub, true
	}
	if threads.Kind != yaml.SequenceNode {
		logger.Warn("Ignoring threads, expected a list", "forum", forum, "subforum", name, "line", threads.Line)
		return sub, true
	}
	for _, t := range threads.Content {
		id := strings.TrimSpace(t.Value)
		if t.Kind != yaml.ScalarNode || !notifier.ValidThreadID(id) {
			logger.Warn("Ignoring invalid thread id", "forum", forum, "subforum", name, "line", t.Line)
			continue
		}
		sub.Threads = append(sub.Threads, id)
	}
	return sub, true
}

// dedupeThreads drops thread IDs already listed earlier in the file since
// seen-state is keyed by thread ID alone.
func dedupeThreads(forum Forum, sub Subforum, seen map[string]string, logger *slog.Logger) []string {
	var out []string
	for _, id := range sub.Threads {
		if prev, dup := seen[id]; dup {
			logger.Warn("Ignoring duplicate thread", "forum", forum.Name, "subforum", sub.Name, "thread_id", id, "first_seen_in", prev)
			continue
		}
		seen[id] = forum.Name
		out = append(out, id)
	}
	return out
}

// Targets flattens the configuration into watched threads in file order.
func (c *Config) Targets() []notifier.Target {
	var targets []notifier.Target
	for _, f := range c.Forums {
		for _, s := range f.Subforums {
			for _, id := range s.Threads {
				targets = append(targets, notifier.Target{
					Forum:      f.Name,
					BaseURL:    f.BaseURL,
					Subforum:   s.Name,
					SubforumID: s.ID,
					ThreadID:   id,
				})
			}
		}
	}
	return targets
}
