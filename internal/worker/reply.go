package worker

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/specialistvlad/flowlab/internal/flatgraph"
	"github.com/specialistvlad/flowlab/internal/session"
)

// Reply is the single reply schema shared by every command. Empty fields
// are left out of the encoding.
type Reply struct {
	GraphDef   *flatgraph.GraphDef `json:"graphdef,omitempty"`
	DataUpdate map[string]any      `json:"dataupdate,omitempty"`
	Error      string              `json:"error,omitempty"`
	ErrorID    string              `json:"errorid,omitempty"`
	ErrorKind  string              `json:"errorkind,omitempty"`
	TabID      string              `json:"tabid,omitempty"`
	SessionID  string              `json:"gs_id,omitempty"`
	Log        string              `json:"log,omitempty"`
	Msg        string              `json:"msg,omitempty"`
	Vars       []string            `json:"vars,omitempty"`
	Ans        string              `json:"ans,omitempty"`
	FatalError string              `json:"fatalerror,omitempty"`
}

// Error kinds that are not produced by node execution.
const (
	ErrKindUpdate    = "update"
	ErrKindOwnership = "ownership"
)

// Encode returns the JSON form of r.
func (r *Reply) Encode() ([]byte, error) {
	return sonic.ConfigStd.Marshal(r)
}

// DecodeReply parses a reply payload.
func DecodeReply(b []byte) (*Reply, error) {
	var r Reply
	if err := sonic.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decoding reply: %w", err)
	}
	return &r, nil
}

func fatalReply(err error) *Reply {
	return &Reply{FatalError: err.Error()}
}

// errorReply renders a recoverable failure into the tagged error fields.
func errorReply(err error) *Reply {
	r := &Reply{Error: err.Error()}
	var execErr *flatgraph.ExecError
	var updateErr *session.UpdateError
	switch {
	case errors.As(err, &execErr):
		r.Error = execErr.Message
		r.ErrorID = execErr.SourceID
		r.ErrorKind = string(execErr.Kind)
	case errors.As(err, &updateErr):
		r.ErrorKind = ErrKindUpdate
	case errors.Is(err, ErrOwnershipTakenOver):
		r.ErrorKind = ErrKindOwnership
	}
	return r
}

func graphDefOf(s *session.Session) (*flatgraph.GraphDef, error) {
	def, err := s.Graph.ExtractGraphDef()
	if err != nil {
		return nil, err
	}
	return &def, nil
}
