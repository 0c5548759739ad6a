package core

import (
	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
)

// SetGovernanceParameter updates one governance value by key. Changes
// apply to subsequent operations only, never retroactively.
func (e *Engine) SetGovernanceParameter(caller uuid.UUID, key string, value fixmath.Wad) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := e.params.Set(key, value); err != nil {
		e.observeRejected("set_parameter")
		return err
	}
	e.log.Info().Str("key", key).Str("value", value.String()).Msg("governance parameter updated")
	e.observeApplied("set_parameter")
	return nil
}

// SetDevAccount points the fee credit at a new dev identity.
func (e *Engine) SetDevAccount(caller, dev uuid.UUID) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	e.params.SetDevAccount(dev)
	e.observeApplied("set_parameter")
	return nil
}
