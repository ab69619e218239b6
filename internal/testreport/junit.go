package testreport

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
)

type junitSuites struct {
	XMLName xml.Name     `xml:"testsuites"`
	Suites  []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name   string       `xml:"name,attr"`
	Cases  []junitCase  `xml:"testcase"`
	Suites []junitSuite `xml:"testsuite"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	File      string        `xml:"file,attr"`
	Failure   *junitMessage `xml:"failure"`
	Error     *junitMessage `xml:"error"`
	Skipped   *junitMessage `xml:"skipped"`
}

type junitMessage struct {
	Message string `xml:"message,attr"`
	Body    string `xml:",chardata"`
}

func (m *junitMessage) text() string {
	if m.Message != "" {
		return m.Message
	}
	return strings.TrimSpace(m.Body)
}

// ParseJUnitFile reads a JUnit XML report from disk
func ParseJUnitFile(path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("failed to open junit report: %w", err)
	}
	defer f.Close()
	return ParseJUnit(f)
}

// ParseJUnit decodes a JUnit XML report whose root is either
// <testsuites> or a single <testsuite>
func ParseJUnit(r io.Reader) (Report, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Report{}, fmt.Errorf("failed to read junit report: %w", err)
	}

	var suites []junitSuite
	var root junitSuites
	if err := xml.Unmarshal(data, &root); err == nil {
		suites = root.Suites
	} else {
		var single junitSuite
		if err := xml.Unmarshal(data, &single); err != nil {
			return Report{}, fmt.Errorf("failed to decode junit report: %w", err)
		}
		suites = []junitSuite{single}
	}

	var outcomes []Outcome
	for _, s := range suites {
		outcomes = collectJUnit(outcomes, s)
	}
	sortOutcomes(outcomes)
	return Report{Outcomes: outcomes}, nil
}

func collectJUnit(outcomes []Outcome, suite junitSuite) []Outcome {
	for _, c := range suite.Cases {
		prefix := c.ClassName
		if prefix == "" {
			prefix = suite.Name
		}
		id := c.Name
		if prefix != "" {
			id = prefix + idSeparator + c.Name
		}

		o := Outcome{ID: id, File: c.File, Attempts: 1, FirstStatus: StatusPassed}
		switch {
		case c.Failure != nil:
			o.FirstStatus, o.Error = StatusFailed, c.Failure.text()
		case c.Error != nil:
			o.FirstStatus, o.Error = StatusFailed, c.Error.text()
		case c.Skipped != nil:
			o.FirstStatus, o.Attempts = StatusSkipped, 0
		}
		o.FinalStatus = o.FirstStatus
		outcomes = append(outcomes, o)
	}
	for _, child := range suite.Suites {
		outcomes = collectJUnit(outcomes, child)
	}
	return outcomes
}
