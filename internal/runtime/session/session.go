// Package session keeps per-user continuation state and persists it to a
// single JSON file.
package session

// UserSession is the continuation state of one chat user.
type UserSession struct {
	Tool                string `json:"tool"`
	SessionID           string `json:"sessionId"`
	Model               string `json:"model"`
	Agent               string `json:"agent"`
	Cwd                 string `json:"cwd"`
	NewSessionRequested bool   `json:"newSessionRequested"`
}

// Patch is a shallow update; nil fields are left untouched.
type Patch struct {
	Tool                *string
	SessionID           *string
	Model               *string
	Agent               *string
	Cwd                 *string
	NewSessionRequested *bool
}

// String returns a pointer to s for building a Patch.
func String(s string) *string { return &s }

// Bool returns a pointer to b for building a Patch.
func Bool(b bool) *bool { return &b }

func (p Patch) apply(s *UserSession) {
	if p.Tool != nil {
		s.Tool = *p.Tool
	}
	if p.SessionID != nil {
		s.SessionID = *p.SessionID
	}
	if p.Model != nil {
		s.Model = *p.Model
	}
	if p.Agent != nil {
		s.Agent = *p.Agent
	}
	if p.Cwd != nil {
		s.Cwd = *p.Cwd
	}
	if p.NewSessionRequested != nil {
		s.NewSessionRequested = *p.NewSessionRequested
	}
}
