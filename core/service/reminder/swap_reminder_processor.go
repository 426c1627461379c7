package reminder

import (
	"context"
	"fmt"
	"os"
	"time"

	"skillswap_server/core/domain"
	"skillswap_server/core/port/out"
	"skillswap_server/pkg/clock"
	"skillswap_server/pkg/logger"

	"github.com/google/uuid"
)

// ProcessorConfig tunes the reminder delivery loop.
type ProcessorConfig struct {
	TickInterval time.Duration
	ClaimLimit   int
	BacklogLimit int64
}

// Processor delivers due reminders. Rows are claimed with a conditional
// Pending → Dispatching update, so multiple instances can run concurrently
// without double delivery. Delivery uses only the snapshot fields of the
// row; the appointment is consulted once, to drop reminders whose session
// already reached a terminal state.
type Processor struct {
	uow      out.UnitOfWork
	notifier out.NotificationPort
	clk      clock.Clock
	cfg      ProcessorConfig
	workerID string
}

func NewProcessor(uow out.UnitOfWork, notifier out.NotificationPort, clk clock.Clock, cfg ProcessorConfig) *Processor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = 100
	}
	if cfg.BacklogLimit <= 0 {
		cfg.BacklogLimit = 1000
	}

	hostname, _ := os.Hostname()
	return &Processor{
		uow:      uow,
		notifier: notifier,
		clk:      clk,
		cfg:      cfg,
		workerID: fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
	}
}

// Run blocks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	logger.WithField("worker_id", p.workerID).
		WithField("tick", p.cfg.TickInterval.String()).
		Info("reminder processor started")

	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("reminder processor stopped")
			return
		case <-ticker.C:
			p.Drain(ctx)
		}
	}
}

// Drain delivers every reminder that is due at the time of the call.
// The whole due set is claimed in one go while it fits under the backlog
// limit; a larger backlog is worked off in claim-sized batches, each one
// starting immediately instead of waiting for the next tick.
func (p *Processor) Drain(ctx context.Context) {
	for {
		more, err := p.processBatch(ctx)
		if err != nil {
			logger.WithError(err).Error("reminder batch failed")
			return
		}
		if !more || ctx.Err() != nil {
			return
		}
	}
}

func (p *Processor) processBatch(ctx context.Context) (bool, error) {
	now := p.clk.Now()
	reminders := p.uow.Read().ScheduledReminders()

	due, err := reminders.CountDue(ctx, now)
	if err != nil {
		return false, fmt.Errorf("count due reminders: %w", err)
	}
	if due == 0 {
		return false, nil
	}

	limit := p.cfg.ClaimLimit
	if due <= p.cfg.BacklogLimit {
		limit = int(due)
	}

	claimed, err := reminders.ClaimDue(ctx, now, limit, p.workerID)
	if err != nil {
		return false, fmt.Errorf("claim due reminders: %w", err)
	}
	if len(claimed) == 0 {
		return false, nil
	}

	for _, rem := range claimed {
		p.deliver(ctx, rem)
	}

	remaining, err := reminders.CountDue(ctx, now)
	if err != nil {
		return false, fmt.Errorf("count due reminders: %w", err)
	}
	return remaining > 0, nil
}

func (p *Processor) deliver(ctx context.Context, rem *domain.ScheduledReminder) {
	read := p.uow.Read()

	appt, err := read.Appointments().GetByID(ctx, rem.AppointmentID)
	if err != nil {
		p.markFailed(ctx, rem.ID, err)
		return
	}
	if appt == nil || appt.IsTerminal() {
		// Pruning normally cancels these rows inside the terminating
		// transaction; this catches the claim racing that transaction.
		rem.Status = domain.ReminderCancelled
		rem.UpdatedAt = p.clk.Now()
		if err := read.ScheduledReminders().Update(ctx, rem); err != nil {
			logger.WithError(err).WithField("reminder_id", rem.ID).Error("cancel stale reminder")
		}
		return
	}

	if err := p.notifier.Send(ctx, formatNotification(rem)); err != nil {
		p.markFailed(ctx, rem.ID, err)
		return
	}
	if err := read.ScheduledReminders().MarkSent(ctx, rem.ID, p.clk.Now()); err != nil {
		logger.WithError(err).WithField("reminder_id", rem.ID).Error("mark reminder sent")
	}
}

func (p *Processor) markFailed(ctx context.Context, id int64, cause error) {
	logger.WithError(cause).WithField("reminder_id", id).Warn("reminder delivery failed")
	if err := p.uow.Read().ScheduledReminders().MarkFailed(ctx, id, cause.Error()); err != nil {
		logger.WithError(err).WithField("reminder_id", id).Error("mark reminder failed")
	}
}

// formatNotification renders the message from the snapshot alone, so the
// delivered text reflects the appointment as it was when the reminder was
// scheduled.
func formatNotification(rem *domain.ScheduledReminder) *out.NotificationRequest {
	body := fmt.Sprintf("Your %s session with %s starts in %s (%s).",
		rem.SkillName, rem.PartnerName, formatLead(rem.MinutesBefore),
		rem.AppointmentTime.Format("Mon, Jan 2 at 15:04 MST"))

	data := map[string]string{
		"appointment_id": fmt.Sprintf("%d", rem.AppointmentID),
	}
	if rem.MeetingLink != "" {
		data["meeting_link"] = rem.MeetingLink
	}

	return &out.NotificationRequest{
		UserID:  rem.UserID,
		Channel: rem.ReminderType,
		Title:   fmt.Sprintf("Upcoming session: %s", rem.SkillName),
		Body:    body,
		Data:    data,
	}
}

func formatLead(minutes int) string {
	switch {
	case minutes < 60:
		return fmt.Sprintf("%d minutes", minutes)
	case minutes%1440 == 0:
		days := minutes / 1440
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	case minutes%60 == 0:
		hours := minutes / 60
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		return fmt.Sprintf("%dh%02dm", minutes/60, minutes%60)
	}
}
