// ABOUTME: Evaluation scenarios: a paper, the questions asked about it and their ground truth
// ABOUTME: Suites are YAML files; relative paper paths resolve against the suite's directory
package eval

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/harper/paperchat/internal/models"
)

// Suite is a set of scenarios loaded from one file
type Suite struct {
	Name      string     `yaml:"name" json:"name"`
	Scenarios []Scenario `yaml:"scenarios" json:"scenarios"`
}

// Scenario is one paper and the questions asked about it, in order
type Scenario struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Source string `yaml:"source" json:"source"`
	Title  string `yaml:"title,omitempty" json:"title,omitempty"`
	Cases  []Case `yaml:"questions" json:"questions"`
}

// Case is a question with its ground truth. Matching is case-insensitive substring.
type Case struct {
	Question string `yaml:"question" json:"question"`

	// Strings that MUST appear in the answer
	ExpectedInAnswer []string `yaml:"expected_in_answer,omitempty" json:"expected_in_answer,omitempty"`
	// Strings that MUST NOT appear in the answer
	ForbiddenInAnswer []string `yaml:"forbidden_in_answer,omitempty" json:"forbidden_in_answer,omitempty"`
	// Strings the retrieved passage should contain
	ExpectedInContext []string `yaml:"expected_in_context,omitempty" json:"expected_in_context,omitempty"`
}

// Document returns the paper this scenario is about
func (s Scenario) Document() (*models.Document, error) {
	return models.NewDocument("", s.Title, s.Source)
}

// LoadSuite reads and validates a YAML suite
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite: %w", err)
	}
	return ParseSuite(data, filepath.Dir(path))
}

// ParseSuite decodes a suite; relative sources are joined to baseDir
func ParseSuite(data []byte, baseDir string) (*Suite, error) {
	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("%w: invalid suite: %v", models.ErrParse, err)
	}
	if len(suite.Scenarios) == 0 {
		return nil, fmt.Errorf("%w: suite has no scenarios", models.ErrInput)
	}

	seen := make(map[string]bool)
	for i := range suite.Scenarios {
		sc := &suite.Scenarios[i]
		if sc.ID == "" {
			sc.ID = fmt.Sprintf("s%d", i+1)
		}
		if seen[sc.ID] {
			return nil, fmt.Errorf("%w: duplicate scenario id %q", models.ErrInput, sc.ID)
		}
		seen[sc.ID] = true

		if sc.Source == "" {
			return nil, fmt.Errorf("%w: scenario %s has no source", models.ErrInput, sc.ID)
		}
		if !models.IsRemoteSource(sc.Source) && !filepath.IsAbs(sc.Source) && baseDir != "" {
			sc.Source = filepath.Join(baseDir, sc.Source)
		}
		if len(sc.Cases) == 0 {
			return nil, fmt.Errorf("%w: scenario %s has no questions", models.ErrInput, sc.ID)
		}
		for j, c := range sc.Cases {
			if c.Question == "" {
				return nil, fmt.Errorf("%w: scenario %s question %d is empty", models.ErrInput, sc.ID, j+1)
			}
		}
		if sc.Name == "" {
			sc.Name = sc.ID
		}
	}
	return &suite, nil
}
