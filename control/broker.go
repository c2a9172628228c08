package control

import (
	"github.com/ruteri/secure-node-control/interfaces"
	"github.com/ruteri/secure-node-control/metrics"
)

// The credential broker is the worker-side end of the pending request slot.
// AskForPassword and AskForDeferredSignature park the calling goroutine on
// the condition variable until an answer arrives through SupplyPassword or
// ConfirmSignature, or shutdown is requested. The machine implements
// interfaces.CredentialPrompter so the accounts engine can request deferred
// signatures mid-unlock.

// AskForPassword blocks until the operator supplies a password or cancels.
// A fixed credential short-circuits the prompt entirely: no pending request
// is created and the token is not bumped.
func (m *StateMachine) AskForPassword(title, keyDetail string, previousWasBad bool) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exitRequested {
		return "", true
	}

	if m.hasFixedPassword {
		return m.fixedPassword, false
	}

	req := &pendingRequest{
		kind:           interfaces.PendingPassword,
		title:          title,
		keyDetail:      keyDetail,
		previousWasBad: previousWasBad,
		attempt:        m.failedAttempts + 1,
	}
	m.pending = req
	m.bumpLocked()
	m.cond.Broadcast()
	metrics.CredentialPrompts.WithLabelValues(interfaces.PendingPassword.String()).Inc()

	for !req.answered && !m.exitRequested {
		m.cond.Wait()
	}

	if !req.answered {
		// Shutdown won the race. Withdraw the request if it is still posted.
		if m.pending == req {
			m.pending = nil
			m.bumpLocked()
		}
		return "", true
	}

	return req.password, req.canceled
}

// AskForDeferredSignature blocks until the operator supplies a detached
// signature over payload or rejects the request. Returns
// interfaces.ErrCanceled on rejection or shutdown.
func (m *StateMachine) AskForDeferredSignature(payload []byte, reason string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exitRequested {
		return nil, interfaces.ErrCanceled
	}

	req := &pendingRequest{
		kind:        interfaces.PendingSignature,
		title:       reason,
		attempt:     1,
		signPayload: append([]byte(nil), payload...),
		signReason:  reason,
	}
	m.pending = req
	m.bumpLocked()
	m.cond.Broadcast()
	metrics.CredentialPrompts.WithLabelValues(interfaces.PendingSignature.String()).Inc()

	for !req.answered && !m.exitRequested {
		m.cond.Wait()
	}

	if !req.answered {
		if m.pending == req {
			m.pending = nil
			m.bumpLocked()
		}
		return nil, interfaces.ErrCanceled
	}

	if req.rejected {
		return nil, interfaces.ErrCanceled
	}
	return req.signature, nil
}
