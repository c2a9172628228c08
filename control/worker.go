package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruteri/secure-node-control/interfaces"
	"github.com/ruteri/secure-node-control/metrics"
)

// runInitWorker drives the startup sequence. It is the only goroutine that
// blocks: account discovery, credential waits and engine unlock calls all
// happen here. API-facing methods only flip fields under the lock and wake
// it up.
func (m *StateMachine) runInitWorker(ctx context.Context) {
	defer close(m.workerDone)

	accounts, err := m.engine.DiscoverAccounts(ctx)
	if err != nil {
		m.enterFatal(fmt.Errorf("failed to discover accounts: %w", err))
		return
	}

	m.mu.Lock()
	if m.exitRequested {
		m.mu.Unlock()
		return
	}
	changed := m.mergeAccountsLocked(accounts)
	if m.state == interfaces.StateWaitingInit {
		if m.autoSelectLocked() {
			m.setStateLocked(interfaces.StateWaitingStartup)
		} else {
			m.setStateLocked(interfaces.StateWaitingAccountSelect)
		}
		m.bumpLocked()
		m.cond.Broadcast()
	} else if changed {
		// CreateLocation advanced the machine while discovery ran; the
		// merged accounts still change the locations view.
		m.bumpLocked()
		m.cond.Broadcast()
	}
	m.mu.Unlock()

	for {
		m.mu.Lock()
		for m.state != interfaces.StateWaitingStartup && !m.exitRequested {
			m.cond.Wait()
		}
		if m.exitRequested {
			m.mu.Unlock()
			return
		}
		id := m.selected
		title, keyDetail := m.promptDetailsLocked(id)
		m.mu.Unlock()

		if done := m.unlockSelected(ctx, id, title, keyDetail); done {
			return
		}
	}
}

// autoSelectLocked picks the single autologin account when a fixed
// credential makes an unprompted unlock possible.
func (m *StateMachine) autoSelectLocked() bool {
	if len(m.accounts) != 1 || !m.accounts[0].Autologin || !m.hasFixedPassword {
		return false
	}
	m.selected = m.accounts[0].ID
	m.autologin = true
	return true
}

func (m *StateMachine) promptDetailsLocked(id interfaces.LocationID) (title, keyDetail string) {
	for _, acc := range m.accounts {
		if acc.ID.Equal(id) {
			detail := acc.Identity.String()
			if acc.IdentityName != "" {
				detail = fmt.Sprintf("%s (%s)", acc.IdentityName, acc.Identity.String())
			}
			return acc.Name, detail
		}
	}
	return id.String(), ""
}

// unlockSelected runs the unlock loop for the selected location. It returns
// true when the worker is finished (running, fatal or shutting down) and
// false when the machine went back to account selection.
func (m *StateMachine) unlockSelected(ctx context.Context, id interfaces.LocationID, title, keyDetail string) bool {
	previousWasBad := false

	for {
		password, canceled := m.AskForPassword(title, keyDetail, previousWasBad)
		if canceled {
			return m.handleUnlockCancel()
		}

		err := m.engine.Unlock(ctx, id, password, m)
		switch {
		case err == nil:
			metrics.UnlockAttempts.WithLabelValues(metrics.ResultOK).Inc()
			m.persistAutologin(ctx, id)
			m.enterRunning()
			return true

		case errors.Is(err, interfaces.ErrBadCredential):
			metrics.UnlockAttempts.WithLabelValues(metrics.ResultBadCredential).Inc()
			m.mu.Lock()
			m.failedAttempts++
			attempts := m.failedAttempts
			exhausted := attempts >= m.maxAttempts
			m.mu.Unlock()

			m.log.Warn("unlock failed: bad credential", "location", id.String(), "attempt", attempts)
			if exhausted {
				m.enterFatal(fmt.Errorf("%d failed unlock attempts for location %s", attempts, id.String()))
				return true
			}
			previousWasBad = true

		case errors.Is(err, interfaces.ErrCanceled):
			metrics.UnlockAttempts.WithLabelValues(metrics.ResultCanceled).Inc()
			return m.handleUnlockCancel()

		default:
			metrics.UnlockAttempts.WithLabelValues(metrics.ResultFatal).Inc()
			m.enterFatal(fmt.Errorf("failed to unlock location %s: %w", id.String(), err))
			return true
		}
	}
}

// persistAutologin stores the autologin choice made at selection time in the
// location metadata. A flipped flag changes the locations view and bumps the
// token. Failure to persist only costs the preference, never the login.
func (m *StateMachine) persistAutologin(ctx context.Context, id interfaces.LocationID) {
	m.mu.Lock()
	autologin := m.autologin
	changed := false
	for i := range m.accounts {
		if m.accounts[i].ID.Equal(id) && m.accounts[i].Autologin != autologin {
			m.accounts[i].Autologin = autologin
			changed = true
		}
	}
	if changed {
		m.bumpLocked()
		m.cond.Broadcast()
	}
	m.mu.Unlock()

	if err := m.engine.SetAutologin(ctx, id, autologin); err != nil {
		m.log.Warn("failed to persist autologin flag", "location", id.String(), "err", err)
	}
}

// handleUnlockCancel processes a canceled credential request: on shutdown
// the worker unwinds, otherwise the machine returns to account selection
// with the identity reference and any stale pending request cleared.
func (m *StateMachine) handleUnlockCancel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exitRequested {
		return true
	}

	m.selected = interfaces.LocationID{}
	m.autologin = false
	m.pending = nil
	m.setStateLocked(interfaces.StateWaitingAccountSelect)
	m.bumpLocked()
	m.cond.Broadcast()
	m.log.Info("unlock canceled, returning to account selection")
	return false
}

func (m *StateMachine) enterRunning() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exitRequested {
		return
	}

	next := interfaces.StateRunningPartial
	if m.fullControl {
		next = interfaces.StateRunningFull
	}
	m.setStateLocked(next)
	m.bumpLocked()
	m.cond.Broadcast()
}

// enterFatal records the startup failure and moves to StateFatalError. The
// process keeps serving status and shutdown from there. During shutdown the
// failure is expected fallout and is not recorded.
func (m *StateMachine) enterFatal(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exitRequested {
		m.log.Debug("startup error during shutdown", "err", cause)
		return
	}

	err := fmt.Errorf("%w: %v", interfaces.ErrFatalInit, cause)
	m.log.Error("startup failed", "err", cause)
	m.lastError = err.Error()
	m.setStateLocked(interfaces.StateFatalError)
	m.bumpLocked()
	m.cond.Broadcast()
}
