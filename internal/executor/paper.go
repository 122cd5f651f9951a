package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

var paperFillNamespace = uuid.MustParse("5d1c9a7e-8b2f-4e63-a0d4-71c3e9f2b6a8")

// Paper fills every accepted intent in full at its reference price moved
// against the order by SlippageBps. Reports are queued on a buffered
// channel.
type Paper struct {
	slippageBps float64
	feeBps      float64
	reports     chan domain.ExecutionReport
	dedup       *Dedup
	now         func() time.Time
	logger      *slog.Logger
}

// NewPaper creates a paper execution client.
func NewPaper(slippageBps, feeBps float64, logger *slog.Logger) *Paper {
	return &Paper{
		slippageBps: slippageBps,
		feeBps:      feeBps,
		reports:     make(chan domain.ExecutionReport, 256),
		dedup:       NewDedup(10 * time.Minute),
		now:         time.Now,
		logger:      logger.With(slog.String("component", "paper_executor")),
	}
}

// Reports returns the report channel.
func (p *Paper) Reports() <-chan domain.ExecutionReport { return p.reports }

// Submit queues a fill report for intent. A repeated intent id fails with
// domain.ErrDuplicateIntent and produces no report.
func (p *Paper) Submit(ctx context.Context, intent domain.OrderIntent) error {
	if intent.ID == "" || intent.Symbol == "" || intent.Quantity <= 0 || intent.Price <= 0 {
		return fmt.Errorf("executor: paper submit %q: malformed intent", intent.ID)
	}
	if p.dedup.IsDuplicate(intent.ID) {
		return fmt.Errorf("executor: paper submit %s: %w", intent.ID, domain.ErrDuplicateIntent)
	}
	// Paper fills happen at the decision time, which is the bar time when
	// history is replayed.
	at := intent.CreatedAt
	if at.IsZero() {
		at = p.now()
	}

	price := intent.Price * (1 + intent.Side.Sign()*p.slippageBps/10000)
	fill := domain.Fill{
		ID:       uuid.NewSHA1(paperFillNamespace, []byte(intent.ID)).String(),
		IntentID: intent.ID,
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Quantity: intent.Quantity,
		Price:    price,
		Fee:      intent.Quantity * price * p.feeBps / 10000,
		Time:     at.UTC(),
	}
	report := domain.ExecutionReport{IntentID: intent.ID, Status: domain.ReportFilled, Fill: &fill}

	select {
	case p.reports <- report:
		p.logger.InfoContext(ctx, "paper fill",
			slog.String("intent_id", intent.ID),
			slog.String("symbol", intent.Symbol),
			slog.String("side", string(intent.Side)),
			slog.Float64("quantity", fill.Quantity),
			slog.Float64("price", fill.Price),
		)
		return nil
	case <-ctx.Done():
		p.dedup.Forget(intent.ID)
		return fmt.Errorf("executor: paper submit %s: %w: %w", intent.ID, domain.ErrTransient, ctx.Err())
	}
}
