package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case strings.HasPrefix(subject, SubjectFederation+"."):
		var p FederationPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if err := p.validate(subject); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	}
	return nil
}

func (p *FederationPayload) validate(subject string) error {
	if p.ID == "" {
		return errors.New("id is required")
	}
	if p.SourceTriad == "" {
		return errors.New("source_triad is required")
	}
	if triad, ok := TriadFromSubject(subject); ok && triad != p.SourceTriad {
		return fmt.Errorf("source_triad %q does not match subject", p.SourceTriad)
	}
	if p.Temperature < 0 || p.Temperature > 100 {
		return fmt.Errorf("temperature %v out of range", p.Temperature)
	}
	if p.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}
