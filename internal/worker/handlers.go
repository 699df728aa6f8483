package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/specialistvlad/flowlab/internal/ctxlog"
	"github.com/specialistvlad/flowlab/internal/flatgraph"
	"github.com/specialistvlad/flowlab/internal/session"
	"github.com/specialistvlad/flowlab/internal/store"
)

// Command is the kind of a queued request.
type Command string

const (
	CmdLoad             Command = "load"
	CmdRevert           Command = "revert"
	CmdReset            Command = "reset"
	CmdSave             Command = "save"
	CmdUpdateRun        Command = "update_run"
	CmdUpdate           Command = "update"
	CmdClearData        Command = "clear_data"
	CmdExtractLog       Command = "extract_log"
	CmdAutosaveShutdown Command = "autosave_shutdown"
	CmdShutdown         Command = "shutdown"
	CmdNew              Command = "new"
	CmdClone            Command = "clone"
	CmdDelete           Command = "delete"

	CmdAdminResetAll    Command = "admin_resetall"
	CmdAdminShutdownAll Command = "admin_shutdownall"
	CmdAdminShowVars    Command = "admin_showvars"
	CmdAdminCmd         Command = "admin_cmd"
)

// ErrUnknownCommand is the fatal error of a request with an unknown command.
var ErrUnknownCommand = errors.New("unknown command")

type handlerFunc func(p *Pool, ctx context.Context, req store.Request) (*Reply, error)

var handlers = map[Command]handlerFunc{
	CmdLoad:             (*Pool).load,
	CmdRevert:           guarded((*Pool).revert),
	CmdReset:            guarded((*Pool).reset),
	CmdSave:             guarded((*Pool).save),
	CmdUpdateRun:        guarded((*Pool).updateRun),
	CmdUpdate:           guarded((*Pool).update),
	CmdClearData:        guarded((*Pool).clearData),
	CmdExtractLog:       (*Pool).extractLog,
	CmdAutosaveShutdown: (*Pool).autosaveShutdown,
	CmdShutdown:         (*Pool).shutdown,
	CmdNew:              (*Pool).newSession,
	CmdClone:            (*Pool).clone,
	CmdDelete:           (*Pool).deleteSession,
	CmdAdminResetAll:    (*Pool).adminResetAll,
	CmdAdminShutdownAll: (*Pool).adminShutdownAll,
	CmdAdminShowVars:    (*Pool).adminShowVars,
	CmdAdminCmd:         (*Pool).adminCmd,
}

// guarded refuses requests whose tab token is stale.
func guarded(h handlerFunc) handlerFunc {
	return func(p *Pool, ctx context.Context, req store.Request) (*Reply, error) {
		if err := p.tokens.Check(req.SessionID, req.TabID); err != nil {
			return errorReply(err), nil
		}
		return h(p, ctx, req)
	}
}

// UpdatePayload is the payload of update and update_run requests.
type UpdatePayload struct {
	RunID  string                     `json:"run_id,omitempty"`
	Sync   flatgraph.Batch            `json:"sync"`
	Coords map[string]flatgraph.Coord `json:"coords,omitempty"`
}

// AdminCmdPayload is the payload of admin_cmd requests.
type AdminCmdPayload struct {
	Cmd string `json:"cmd"`
}

func decodePayload(req store.Request, v any) error {
	if len(req.Payload) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(req.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", req.Command, err)
	}
	return nil
}

// stateReply carries the full client state of a session.
func stateReply(e *entry) (*Reply, error) {
	def, err := graphDefOf(e.s)
	if err != nil {
		return nil, err
	}
	update, err := e.s.Graph.DataUpdate()
	if err != nil {
		return nil, err
	}
	return &Reply{GraphDef: def, DataUpdate: update, SessionID: e.s.ID}, nil
}

func (p *Pool) load(ctx context.Context, req store.Request) (*Reply, error) {
	return p.withSession(ctx, req.SessionID, func(e *entry) (*Reply, error) {
		reply, err := stateReply(e)
		if err != nil {
			return nil, err
		}
		reply.TabID = p.tokens.Issue(req.SessionID)
		return reply, nil
	})
}

// revert restores the last quicksave, or the durable definition when there
// is none or it cannot be restored. The autosave is dropped so a later load
// cannot resurrect the discarded state.
func (p *Pool) revert(ctx context.Context, req store.Request) (*Reply, error) {
	drop := []slot{autosaveSlot}
	e, err := p.replaceSession(ctx, req.SessionID, drop, func(rec store.SessionRecord) (*session.Session, error) {
		if rec.Quicksave.IsZero() {
			return p.factory.Reconstruct(ctx, rec)
		}
		s, err := p.factory.Restore(ctx, rec, rec.Quicksave)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("Restoring quicksave failed, reconstructing.", "sessionID", rec.ID, "error", err)
			return p.factory.Reconstruct(ctx, rec)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return p.withEntry(e, stateReply)
}

// reset drops both soft snapshots and rebuilds the session from its durable
// definition.
func (p *Pool) reset(ctx context.Context, req store.Request) (*Reply, error) {
	drop := []slot{autosaveSlot, quicksaveSlot}
	e, err := p.replaceSession(ctx, req.SessionID, drop, func(rec store.SessionRecord) (*session.Session, error) {
		return p.factory.Reconstruct(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return p.withEntry(e, stateReply)
}

// withEntry runs fn on an entry that was just installed.
func (p *Pool) withEntry(e *entry, fn func(e *entry) (*Reply, error)) (*Reply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.s.Touch(p.now())
	return fn(e)
}

func (p *Pool) save(ctx context.Context, req store.Request) (*Reply, error) {
	return p.withSession(ctx, req.SessionID, func(e *entry) (*Reply, error) {
		if err := p.saveSnapshot(ctx, e.s, quicksaveSlot); err != nil {
			return nil, err
		}
		return &Reply{Msg: "session saved", SessionID: e.s.ID}, nil
	})
}

func (p *Pool) updateRun(ctx context.Context, req store.Request) (*Reply, error) {
	var payload UpdatePayload
	if err := decodePayload(req, &payload); err != nil {
		return nil, err
	}
	return p.withSession(ctx, req.SessionID, func(e *entry) (*Reply, error) {
		e.s.Graph.GraphCoords(payload.Coords)
		changes, err := e.s.UpdateAndExecute(ctx, payload.RunID, payload.Sync)
		if perr := p.persistGraphDef(ctx, e.s); perr != nil {
			return nil, perr
		}
		if err != nil {
			return p.failedUpdateReply(e, err)
		}
		return &Reply{DataUpdate: changes}, nil
	})
}

func (p *Pool) update(ctx context.Context, req store.Request) (*Reply, error) {
	var payload UpdatePayload
	if err := decodePayload(req, &payload); err != nil {
		return nil, err
	}
	return p.withSession(ctx, req.SessionID, func(e *entry) (*Reply, error) {
		err := e.s.Update(ctx, payload.Sync, payload.Coords)
		if perr := p.persistGraphDef(ctx, e.s); perr != nil {
			return nil, perr
		}
		if err != nil {
			return p.failedUpdateReply(e, &session.UpdateError{Err: err})
		}
		return &Reply{}, nil
	})
}

// failedUpdateReply tags err and, when the structure may have diverged from
// the client's, attaches the current definition.
func (p *Pool) failedUpdateReply(e *entry, err error) (*Reply, error) {
	reply := errorReply(err)
	var updateErr *session.UpdateError
	if errors.As(err, &updateErr) {
		def, derr := graphDefOf(e.s)
		if derr != nil {
			return nil, derr
		}
		reply.GraphDef = def
	}
	return reply, nil
}

func (p *Pool) clearData(ctx context.Context, req store.Request) (*Reply, error) {
	return p.withSession(ctx, req.SessionID, func(e *entry) (*Reply, error) {
		if err := e.s.Graph.ResetAllObjects(ctx); err != nil {
			return nil, err
		}
		update, err := e.s.Graph.DataUpdate()
		if err != nil {
			return nil, err
		}
		return &Reply{DataUpdate: update}, nil
	})
}

func (p *Pool) extractLog(ctx context.Context, req store.Request) (*Reply, error) {
	return p.withSession(ctx, req.SessionID, func(e *entry) (*Reply, error) {
		return &Reply{Log: e.s.ExtractLog()}, nil
	})
}

func (p *Pool) autosaveShutdown(ctx context.Context, req store.Request) (*Reply, error) {
	ok, err := p.evict(ctx, req.SessionID, true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Reply{Msg: "session was not live"}, nil
	}
	return &Reply{Msg: "session saved and shut down"}, nil
}

func (p *Pool) shutdown(ctx context.Context, req store.Request) (*Reply, error) {
	ok, err := p.evict(ctx, req.SessionID, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Reply{Msg: "session was not live"}, nil
	}
	return &Reply{Msg: "session shut down"}, nil
}

func (p *Pool) newSession(ctx context.Context, req store.Request) (*Reply, error) {
	def, err := flatgraph.EncodeGraphDef(flatgraph.NewGraphDef())
	if err != nil {
		return nil, err
	}
	rec := store.SessionRecord{
		ID:       uuid.NewString(),
		Username: req.Username,
		Created:  p.now().UTC(),
		GraphDef: string(def),
	}
	if err := p.store.CreateSession(ctx, rec); err != nil {
		return nil, err
	}
	return &Reply{SessionID: rec.ID, Msg: "session created"}, nil
}

// clone copies the structure of a session into a new one owned by the
// requesting user. A live source contributes its current structure.
func (p *Pool) clone(ctx context.Context, req store.Request) (*Reply, error) {
	src, err := p.store.Session(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	def := src.GraphDef
	if e := p.live(req.SessionID); e != nil {
		e.mu.Lock()
		if !e.evicted {
			def, err = e.s.GraphDef()
		}
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	title := src.Title
	if title != "" {
		title = "copy of " + title
	}
	rec := store.SessionRecord{
		ID:          uuid.NewString(),
		Username:    req.Username,
		Created:     p.now().UTC(),
		GraphDef:    def,
		Title:       title,
		Description: src.Description,
	}
	if err := p.store.CreateSession(ctx, rec); err != nil {
		return nil, err
	}
	return &Reply{SessionID: rec.ID, Msg: "session cloned"}, nil
}

func (p *Pool) deleteSession(ctx context.Context, req store.Request) (*Reply, error) {
	if _, err := p.evict(ctx, req.SessionID, false); err != nil {
		return nil, err
	}
	rec, err := p.store.Session(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	dropped := clearSnapshots(&rec, autosaveSlot, quicksaveSlot)
	if err := p.store.DeleteSession(ctx, req.SessionID); err != nil {
		return nil, err
	}
	removeSidecars(ctx, dropped)
	p.tokens.Forget(req.SessionID)
	return &Reply{Msg: "session deleted"}, nil
}

// adminResetAll discards every live session and every soft snapshot, so each
// session is reconstructed from its durable definition on next load.
func (p *Pool) adminResetAll(ctx context.Context, req store.Request) (*Reply, error) {
	p.evictAll(ctx, false)
	recs, err := p.store.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, rec := range recs {
		if rec.Autosave.IsZero() && rec.Quicksave.IsZero() {
			continue
		}
		dropped := clearSnapshots(&rec, autosaveSlot, quicksaveSlot)
		if err := p.store.SaveSession(ctx, rec); err != nil {
			errs = append(errs, err)
			continue
		}
		removeSidecars(ctx, dropped)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Reply{Msg: fmt.Sprintf("reset %d sessions", len(recs))}, nil
}

func (p *Pool) adminShutdownAll(ctx context.Context, req store.Request) (*Reply, error) {
	n := p.evictAll(ctx, true)
	return &Reply{Msg: fmt.Sprintf("saved and shut down %d sessions", n)}, nil
}

func (p *Pool) adminShowVars(ctx context.Context, req store.Request) (*Reply, error) {
	vars := p.factory.Engine.Who()
	return &Reply{Vars: vars, Msg: fmt.Sprintf("%d variables", len(vars))}, nil
}

// adminCmd evaluates a raw workspace command under the execution lock.
func (p *Pool) adminCmd(ctx context.Context, req store.Request) (*Reply, error) {
	var payload AdminCmdPayload
	if err := decodePayload(req, &payload); err != nil {
		return nil, err
	}
	if strings.TrimSpace(payload.Cmd) == "" {
		return nil, errors.New("admin_cmd: empty command")
	}
	p.factory.Lock.Lock()
	ans, err := p.factory.Engine.Eval(payload.Cmd)
	p.factory.Lock.Unlock()
	if err != nil {
		return nil, err
	}
	return &Reply{Ans: ans}, nil
}
