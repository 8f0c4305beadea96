package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/trikhub/gateway/internal/gateway/content"
	"github.com/trikhub/gateway/internal/gateway/manifest"
	"github.com/trikhub/gateway/internal/gateway/session"
	"github.com/trikhub/gateway/internal/gateway/skill"
)

// Execute runs a single action invocation through the gateway state machine:
// VALIDATE_INPUT -> RESOLVE_SESSION -> DISPATCH -> VALIDATE_OUTPUT ->
// RENDER_TEMPLATE or STORE_CONTENT. It never returns a Go error: every
// failure surfaces as a Result of kind ResultError, matching the "no
// exceptions across the gateway API boundary" design.
func (g *Gateway) Execute(ctx context.Context, trikID, actionName string, input json.RawMessage, sessionID string) Result {
	g.mu.RLock()
	lt, ok := g.triks[trikID]
	g.mu.RUnlock()
	if !ok {
		return errorResult(CodeTrikNotFound, fmt.Sprintf("trik %q is not loaded", trikID))
	}

	action, ok := lt.manifest.Actions[actionName]
	if !ok {
		return errorResult(CodeActionNotFound, fmt.Sprintf("trik %q has no action %q", trikID, actionName))
	}

	// VALIDATE_INPUT
	if err := validateAgainst(lt.inputSchemas[actionName], input); err != nil {
		return errorResult(CodeInvalidParams, fmt.Sprintf("input: %v", err))
	}

	// RESOLVE_SESSION
	var sess *session.Session
	sessionEnabled := lt.manifest.Capabilities.Session != nil && lt.manifest.Capabilities.Session.Enabled
	if sessionEnabled {
		var maxDuration time.Duration
		if ms := lt.manifest.Capabilities.Session.MaxDurationMs; ms > 0 {
			maxDuration = time.Duration(ms) * time.Millisecond
		}
		if sessionID != "" {
			if found, ok := g.sessionStore.Get(trikID, sessionID); ok {
				sess = found
			}
		}
		if sess == nil {
			sess = g.sessionStore.Create(trikID, lt.manifest.Capabilities.Session.MaxHistoryEntries, maxDuration)
		}
	}

	skillInput := skill.Input{
		Action: actionName,
		Input:  input,
		Config: g.buildConfig(trikID, lt.manifest.Capabilities),
	}
	if sess != nil {
		skillInput.Session = &skill.SessionView{
			SessionID: sess.SessionID,
			History:   toSkillHistory(sess.History),
		}
	}
	if handle, ok := g.resolveStorageHandle(trikID); ok {
		skillInput.Storage = handle
		skillInput.StorageEnabled = true
	}

	// DISPATCH
	out, err := g.dispatch(ctx, trikID, lt, skillInput)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return errorResult(CodeExecutionTimeout, err.Error())
		}
		return errorResult(CodeInternalError, err.Error())
	}

	if out.NeedsClarification {
		return Result{Kind: ResultClarification, Questions: out.ClarificationQuestions}
	}

	// VALIDATE_OUTPUT + render/store
	var result Result
	switch action.ResponseMode {
	case manifest.ModeTemplate:
		result, err = g.finishTemplate(lt, actionName, action, sess, input, out)
	case manifest.ModePassthrough:
		result, err = g.finishPassthrough(ctx, trikID, lt, actionName, action, sess, input, out)
	default:
		return errorResult(CodeInternalError, fmt.Sprintf("action %q has no recognised responseMode", actionName))
	}
	if err != nil {
		return errorResult(CodeSchemaValidationFailed, err.Error())
	}

	if sess != nil {
		if out.EndSession {
			g.sessionStore.End(trikID, sess.SessionID)
		}
		result.SessionID = sess.SessionID
	}
	return result
}

// dispatch routes an invocation in-process or to a subprocess worker,
// depending on whether the trik's declared entry runtime matches the
// gateway's own host runtime.
func (g *Gateway) dispatch(ctx context.Context, trikID string, lt *loadedTrik, input skill.Input) (skill.Output, error) {
	entryRuntime := lt.manifest.Entry.Runtime
	if entryRuntime == "" || entryRuntime == g.hostRuntime {
		return g.runner.Invoke(ctx, trikID, input)
	}
	return g.workers.Dispatch(ctx, string(entryRuntime), trikID, lt.entryPath, input)
}

func (g *Gateway) finishTemplate(lt *loadedTrik, actionName string, action manifest.Action, sess *session.Session, input json.RawMessage, out skill.Output) (Result, error) {
	if err := validateAgainst(lt.agentDataSchemas[actionName], out.AgentData); err != nil {
		return Result{}, fmt.Errorf("agentData: %w", err)
	}
	templateID, err := selectTemplate(action, out.AgentData)
	if err != nil {
		return Result{}, err
	}
	text, err := renderTemplate(action.ResponseTemplates[templateID].Text, out.AgentData)
	if err != nil {
		return Result{}, err
	}
	if sess != nil {
		_ = g.sessionStore.Append(sess.TrikID, sess.SessionID, session.HistoryEntry{
			Timestamp: time.Now(),
			Action:    actionName,
			Input:     input,
			AgentData: out.AgentData,
		})
	}
	return Result{Kind: ResultTemplate, AgentData: out.AgentData, TemplateText: text}, nil
}

func (g *Gateway) finishPassthrough(ctx context.Context, trikID string, lt *loadedTrik, actionName string, action manifest.Action, sess *session.Session, input json.RawMessage, out skill.Output) (Result, error) {
	if err := validateAgainst(lt.userContentSchemas[actionName], out.UserContent); err != nil {
		return Result{}, fmt.Errorf("userContent: %w", err)
	}
	var pc content.PassthroughContent
	if err := json.Unmarshal(out.UserContent, &pc); err != nil {
		return Result{}, fmt.Errorf("userContent: %w", err)
	}
	ref, err := g.contentStore.Put(ctx, pc, content.DefaultTTL)
	if err != nil {
		return Result{}, fmt.Errorf("store passthrough content: %w", err)
	}
	if sess != nil {
		_ = g.sessionStore.Append(trikID, sess.SessionID, session.HistoryEntry{
			Timestamp: time.Now(),
			Action:    actionName,
			Input:     input,
		})
	}
	return Result{Kind: ResultPassthrough, UserContentRef: ref}, nil
}

// buildConfig resolves every key the manifest declares (required + optional)
// that actually has a value on file, scoped by the whitelist config.Context
// itself enforces.
func (g *Gateway) buildConfig(trikID string, caps manifest.Capabilities) map[string]string {
	declared := append(append([]manifest.ConfigRequirement{}, caps.Required...), caps.Optional...)
	if len(declared) == 0 {
		return nil
	}
	c := g.configStore.ForTrik(trikID, declared)
	out := make(map[string]string, len(declared))
	for _, req := range declared {
		if v, ok := c.Get(req.Key); ok {
			out[req.Key] = v
		}
	}
	return out
}

func toSkillHistory(entries []session.HistoryEntry) []skill.HistoryEntry {
	out := make([]skill.HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = skill.HistoryEntry{
			Timestamp: e.Timestamp,
			Action:    e.Action,
			Input:     e.Input,
			AgentData: e.AgentData,
		}
	}
	return out
}
