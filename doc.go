// Package actioncore implements the execution core for AI-proposed agent
// actions: risk assessment, human-in-the-loop approval, prioritised queuing
// and audited execution.
//
// The orchestrator is the single entry point. Actions are created, risk is
// scored from weighted factors, low-risk high-confidence work is
// auto-approved while the rest waits for a human decision, and queued work
// is dispatched by priority with bounded concurrency and retried with
// exponential backoff.
//
// End-users typically interact with the high-level Service façade exposed
// by the root package:
//
//	srv, _ := actioncore.New(
//		actioncore.WithExecutor(action.TypeSendEmail, emailExecutor),
//	)
//	_ = srv.Start(ctx)
//	a, _ := srv.CreateAction(ctx, &actioncore.CreateRequest{
//		Type:       action.TypeSendEmail,
//		Parameters: map[string]interface{}{"to": "a@b.c", "subject": "hi", "content": "…"},
//	})
//	a, _ = srv.ExecuteAction(ctx, a.ID)
//
// For more details see the README and individual sub-packages.
package actioncore
