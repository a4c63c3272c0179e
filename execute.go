package actioncore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sk-go/actioncore/internal/clock"
	"github.com/sk-go/actioncore/model/action"
	"github.com/sk-go/actioncore/progress"
	"github.com/sk-go/actioncore/service/event"
	"github.com/sk-go/actioncore/service/executor"
	"github.com/sk-go/actioncore/tracing"
)

// retryableErrors lists the error fragments treated as transient. Matching
// is case-insensitive substring.
var retryableErrors = []string{
	"timeout",
	"network_error",
	"temporary_failure",
	"rate_limit",
	"service_unavailable",
}

// performExecution is the queue dispatch target. It runs the executor with
// a per-attempt timeout, retries transient failures with exponential
// backoff, and records the terminal outcome.
func (s *Service) performExecution(ctx context.Context, a *action.Action) {
	ctx, span := tracing.StartSpan(ctx, "action.execute", "INTERNAL")
	span.WithAttributes(map[string]string{
		"action.id":   a.ID,
		"action.type": string(a.Type),
	})

	updated, err := s.queueManager.UpdateActionStatus(ctx, a.ID, action.StatusExecuting, nil)
	if err != nil {
		s.logger.WithError(err).WithField("action_id", a.ID).Error("failed to mark executing")
		tracing.EndSpan(span, err)
		return
	}
	a = updated
	begun, err := s.auditAlive(ctx, a.ID, func(stored *action.Action) {
		stored.Audit(action.AuditExecutionStarted, "system", map[string]interface{}{
			"queue":   stored.QueueID,
			"attempt": stored.RetryCount + 1,
		})
	})
	if err != nil {
		s.dropOutcome(span, a, err)
		return
	}
	a = begun

	for {
		if s.abandoned(ctx, a.ID) {
			s.dropOutcome(span, a, errActionGone)
			return
		}
		result, execErr := s.executeOnce(ctx, a)

		if execErr == nil && result != nil && result.Success {
			recorded, err := s.auditAlive(ctx, a.ID, func(stored *action.Action) {
				stored.Audit(action.AuditExecuted, "system", map[string]interface{}{
					"executionTime": result.ExecutionTime.String(),
					"attempts":      stored.RetryCount + 1,
				})
			})
			if err != nil {
				s.dropOutcome(span, a, err)
				return
			}
			a = recorded
			completed, err := s.queueManager.UpdateActionStatus(ctx, a.ID, action.StatusCompleted, result)
			if err != nil {
				s.dropOutcome(span, a, err)
				return
			}
			s.mirrorAction(ctx, completed)
			s.bus.Emit(ctx, event.TopicActionExecuted, a.ID, result)
			progress.UpdateCtx(ctx, progress.Delta{Completed: 1})
			tracing.EndSpan(span, nil)
			return
		}

		message, timedOut := describeFailure(result, execErr)

		if s.canRetry(a, message, execErr) {
			delay := backoffDelay(s.config.Retry, a.RetryCount+1)
			retried, err := s.auditAlive(ctx, a.ID, func(stored *action.Action) {
				stored.RetryCount++
				stored.Audit(action.AuditRetryScheduled, "system", map[string]interface{}{
					"attempt": stored.RetryCount,
					"delay":   delay.String(),
					"error":   message,
				})
			})
			if err != nil {
				s.dropOutcome(span, a, err)
				return
			}
			a = retried
			s.logger.WithFields(logrus.Fields{
				"action_id": a.ID,
				"attempt":   a.RetryCount,
				"delay":     delay,
				"error":     message,
			}).Warn("execution failed, retrying")

			select {
			case <-ctx.Done():
				s.finishFailed(ctx, span, a, result, "cancelled during backoff", false)
				return
			case <-time.After(delay):
			}
			continue
		}

		s.finishFailed(ctx, span, a, result, message, timedOut)
		return
	}
}

// errActionGone marks an action that reached a terminal status outside the
// running execution, typically through a concurrent cancel.
var errActionGone = errors.New("action terminated externally")

// abandoned reports whether the action already reached a terminal status.
func (s *Service) abandoned(ctx context.Context, id string) bool {
	latest, err := s.actions.Load(ctx, id)
	if err != nil {
		return false
	}
	return latest == nil || latest.Status.IsTerminal()
}

// auditAlive appends audit state to the stored action unless it went
// terminal in the meantime. The check and the write are atomic, so an
// outcome can never resurrect a cancelled action.
func (s *Service) auditAlive(ctx context.Context, id string, fn func(*action.Action)) (*action.Action, error) {
	return s.queueManager.Mutate(ctx, id, func(stored *action.Action) error {
		if stored.Status.IsTerminal() {
			return errActionGone
		}
		fn(stored)
		return nil
	})
}

// dropOutcome ends the span without recording the execution outcome.
func (s *Service) dropOutcome(span *tracing.Span, a *action.Action, err error) {
	if errors.Is(err, errActionGone) {
		s.logger.WithField("action_id", a.ID).Info("action terminated externally, dropping outcome")
		tracing.EndSpan(span, nil)
		return
	}
	s.logger.WithError(err).WithField("action_id", a.ID).Warn("execution outcome dropped")
	tracing.EndSpan(span, err)
}

func (s *Service) finishFailed(ctx context.Context, span *tracing.Span, a *action.Action, result *action.Result, message string, timedOut bool) {
	status := action.StatusFailed
	if timedOut {
		status = action.StatusTimeout
	}
	if result == nil {
		result = &action.Result{Success: false, Error: message}
	}
	if _, err := s.auditAlive(ctx, a.ID, func(stored *action.Action) {
		stored.Audit(action.AuditFailed, "system", map[string]interface{}{
			"error":    message,
			"attempts": stored.RetryCount + 1,
			"timeout":  timedOut,
		})
	}); err != nil {
		s.dropOutcome(span, a, err)
		return
	}
	failed, err := s.queueManager.UpdateActionStatus(ctx, a.ID, status, result)
	if err != nil {
		s.dropOutcome(span, a, err)
		return
	}
	s.mirrorAction(ctx, failed)
	s.bus.Emit(ctx, event.TopicActionFailed, a.ID, map[string]interface{}{
		"error":    message,
		"attempts": a.RetryCount + 1,
	})
	progress.UpdateCtx(ctx, progress.Delta{Failed: 1})
	tracing.EndSpan(span, errors.New(message))
}

// executeOnce runs a single executor attempt bounded by the action timeout.
func (s *Service) executeOnce(ctx context.Context, a *action.Action) (*action.Result, error) {
	service, err := s.registry.Lookup(a.Type)
	if err != nil {
		return nil, err
	}

	s.applyStyle(ctx, a)

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = action.DefaultTimeout(a.Type)
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := clock.Now()
	type outcome struct {
		result *action.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := service.Execute(execCtx, a)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.result != nil && out.result.ExecutionTime == 0 {
			out.result.ExecutionTime = clock.Now().Sub(started)
		}
		return out.result, out.err
	case <-execCtx.Done():
		return &action.Result{
			Success:       false,
			Error:         "timeout",
			ExecutionTime: clock.Now().Sub(started),
		}, execCtx.Err()
	}
}

// applyStyle rewrites outbound prose in the owning agent's voice. Styling is
// best effort: on any failure the original content is used.
func (s *Service) applyStyle(ctx context.Context, a *action.Action) {
	if !action.TextBearing(a.Type) || s.style == nil {
		return
	}
	content, ok := a.Parameters["content"].(string)
	if !ok || content == "" {
		return
	}
	agentID := ""
	if a.Context != nil {
		agentID = a.Context.AgentID
	}
	styled, err := s.style.MimicWritingStyle(ctx, agentID, content, string(a.Type))
	if err != nil {
		s.logger.WithError(err).WithField("action_id", a.ID).Warn("style pass failed, using original content")
		return
	}
	a.Parameters["content"] = styled
}

func (s *Service) canRetry(a *action.Action, message string, execErr error) bool {
	if a.RetryCount >= a.MaxRetries {
		return false
	}
	if errors.Is(execErr, executor.ErrNotRegistered) || errors.Is(execErr, context.Canceled) {
		return false
	}
	if errors.Is(execErr, context.DeadlineExceeded) {
		return true
	}
	return retryableText(message)
}

func retryableText(message string) bool {
	lower := strings.ToLower(message)
	for _, fragment := range retryableErrors {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

func describeFailure(result *action.Result, execErr error) (message string, timedOut bool) {
	switch {
	case execErr != nil:
		message = execErr.Error()
	case result != nil && result.Error != "":
		message = result.Error
	default:
		message = "execution failed"
	}
	timedOut = errors.Is(execErr, context.DeadlineExceeded) || strings.Contains(strings.ToLower(message), "timeout")
	return message, timedOut
}

// backoffDelay grows exponentially from the base, capped so that a retry
// never waits longer than BackoffCap.
func backoffDelay(config RetryConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := config.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= config.BackoffCap {
			return config.BackoffCap
		}
	}
	if delay > config.BackoffCap {
		return config.BackoffCap
	}
	return delay
}
