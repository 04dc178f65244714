// Package workers implements the four loan-processing workers as
// compiled subgraphs: negotiation (sales), KYC verification, underwriting
// and sanction letter issuance. Each worker owns one private scratchpad
// channel and communicates results through typed state updates plus a
// single public transcript entry per task.
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbfc-labs/loanflow/coreengine/config"
	"github.com/nbfc-labs/loanflow/coreengine/graph"
	"github.com/nbfc-labs/loanflow/coreengine/oracle"
	"github.com/nbfc-labs/loanflow/coreengine/state"
	"github.com/nbfc-labs/loanflow/coreengine/tools"
	"github.com/nbfc-labs/loanflow/eventbus"
)

// Logger is re-exported from graph for convenience.
type Logger = graph.Logger

// Deps carries the collaborators shared by all workers.
type Deps struct {
	Oracle oracle.Client
	Tools  tools.Client
	Logger Logger
	Events eventbus.Publisher // optional
	Config *config.Config     // optional, defaults apply when nil
}

// Validate checks required collaborators.
func (d Deps) Validate() error {
	if d.Oracle == nil {
		return fmt.Errorf("%w: workers need a decision oracle", graph.ErrConfiguration)
	}
	if d.Tools == nil {
		return fmt.Errorf("%w: workers need a tool client", graph.ErrConfiguration)
	}
	return nil
}

func (d Deps) maxToolRounds() int {
	if d.Config != nil && d.Config.MaxToolRounds > 0 {
		return d.Config.MaxToolRounds
	}
	return config.DefaultConfig().MaxToolRounds
}

func (d Deps) oracleTimeout() time.Duration {
	if d.Config != nil && d.Config.OracleTimeout > 0 {
		return d.Config.OracleTimeoutDuration()
	}
	return config.DefaultConfig().OracleTimeoutDuration()
}

// Decide calls the oracle under the configured per-call timeout.
func (d Deps) Decide(ctx context.Context, messages []state.Message, instruction string) (state.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, d.oracleTimeout())
	defer cancel()
	return d.Oracle.Decide(ctx, messages, instruction)
}

func (d Deps) publish(ctx context.Context, event eventbus.Message) {
	if d.Events != nil {
		_ = d.Events.Publish(ctx, event)
	}
}

func (d Deps) warn(msg string, keysAndValues ...any) {
	if d.Logger != nil {
		d.Logger.Warn(msg, keysAndValues...)
	}
}

func (d Deps) debug(msg string, keysAndValues ...any) {
	if d.Logger != nil {
		d.Logger.Debug(msg, keysAndValues...)
	}
}

// jsonContext renders a task context block for oracle instructions.
func jsonContext(v map[string]any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
