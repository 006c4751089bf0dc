package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ciruelos/padelbot/internal/agent"
	"github.com/ciruelos/padelbot/internal/domain"
	"github.com/ciruelos/padelbot/internal/payment"
	"github.com/ciruelos/padelbot/internal/store"
)

// SessionStore loads and persists per-user sessions.
type SessionStore interface {
	Get(ctx context.Context, userID string) (*domain.Session, error)
	Set(ctx context.Context, sess *domain.Session) error
}

// Sender delivers a text message to a user.
type Sender interface {
	SendText(ctx context.Context, userID, body string) error
}

// MediaFetcher downloads an inbound media object, returning its bytes and MIME type.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, mediaID string) ([]byte, string, error)
}

// Default timeouts for the external model calls.
const (
	DefaultChatTimeout   = 30 * time.Second
	DefaultVisionTimeout = 60 * time.Second
)

// Options configures an Orchestrator.
type Options struct {
	Club          domain.Club
	ChatTimeout   time.Duration
	VisionTimeout time.Duration
	// Now overrides the club wall clock, mainly for tests.
	Now    func() time.Time
	Logger *slog.Logger
}

// Orchestrator drives each user through the booking state machine: normal
// conversation while idle, and proof collection while awaiting a deposit.
type Orchestrator struct {
	avail     *Availability
	sessions  SessionStore
	extractor agent.Extractor
	verifier  payment.Verifier
	media     MediaFetcher
	sender    Sender

	club          domain.Club
	chatTimeout   time.Duration
	visionTimeout time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// New wires an Orchestrator.
func New(
	avail *Availability,
	sessions SessionStore,
	extractor agent.Extractor,
	verifier payment.Verifier,
	media MediaFetcher,
	sender Sender,
	opts Options,
) *Orchestrator {
	if opts.Club.Payee == "" {
		opts.Club = domain.DefaultClub()
	}
	if opts.ChatTimeout <= 0 {
		opts.ChatTimeout = DefaultChatTimeout
	}
	if opts.VisionTimeout <= 0 {
		opts.VisionTimeout = DefaultVisionTimeout
	}
	if opts.Now == nil {
		opts.Now = opts.Club.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		avail:         avail,
		sessions:      sessions,
		extractor:     extractor,
		verifier:      verifier,
		media:         media,
		sender:        sender,
		club:          opts.Club,
		chatTimeout:   opts.ChatTimeout,
		visionTimeout: opts.VisionTimeout,
		now:           opts.Now,
		logger:        opts.Logger,
	}
}

// HandleText processes one inbound text message. The returned error only
// reports a failed delivery to the user; every other failure ends in a
// user-facing message.
func (o *Orchestrator) HandleText(ctx context.Context, userID, text string) error {
	sess, err := o.sessions.Get(ctx, userID)
	if err != nil {
		o.logger.Error("failed to load session", "user_id", userID, "error", err)
		return o.send(ctx, userID, msgSessionFailure)
	}

	if sess.AwaitingProof {
		if !IsCancelRequest(text) {
			return o.send(ctx, userID, msgAwaitingReminder)
		}
		sess.ResetAwaiting()
		sess.History = nil
		if err := o.sessions.Set(ctx, sess); err != nil {
			o.logger.Error("failed to save cancelled session", "user_id", userID, "error", err)
			return o.send(ctx, userID, msgSessionFailure)
		}
		o.logger.Info("booking flow cancelled by user", "user_id", userID)
		return o.send(ctx, userID, msgFlowCancelled)
	}

	now := o.now()
	sess.Append(domain.Turn{Role: domain.RoleUser, Content: text})

	reply, err := o.extract(ctx, sess, now)
	if err != nil {
		o.logger.Error("chat extraction failed", "user_id", userID, "error", err)
		return o.send(ctx, userID, msgChatFailure)
	}

	if reply.Action == nil {
		if reply.Text == "" {
			o.logger.Warn("chat extraction returned an empty reply", "user_id", userID)
			return o.send(ctx, userID, msgChatFailure)
		}
		sess.Append(domain.Turn{Role: domain.RoleAssistant, Content: reply.Text})
		o.save(ctx, sess)
		return o.send(ctx, userID, reply.Text)
	}

	sess.RememberIdentity(domain.Identity(reply.Action))
	o.logger.Info("executing action", "user_id", userID, "action", reply.Action.Kind())

	switch a := reply.Action.(type) {
	case domain.PrepareReservation:
		return o.prepare(ctx, sess, reply.Text, []domain.Draft{a.Draft}, false, now)
	case domain.PrepareBatch:
		return o.prepare(ctx, sess, reply.Text, a.Drafts, true, now)
	case domain.EscalateToHuman:
		return o.escalate(ctx, sess, reply.Text, a.Reason)
	default:
		return o.relay(ctx, sess, reply.Text, o.query(ctx, reply.Action), now)
	}
}

func (o *Orchestrator) extract(ctx context.Context, sess *domain.Session, now time.Time) (*agent.Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, o.chatTimeout)
	defer cancel()

	return o.extractor.Extract(ctx, agent.Request{
		UserID:  sess.UserID,
		History: sess.History,
		Context: agent.NewPromptContext(o.club, o.avail.Courts(), o.avail.Slots(), now, sess.ConfirmedPhone, sess.ConfirmedName),
	})
}

// prepare validates drafts and, when all pass, moves the session to awaiting proof.
func (o *Orchestrator) prepare(ctx context.Context, sess *domain.Session, replyText string, drafts []domain.Draft, batch bool, now time.Time) error {
	if rejection := o.checkDrafts(ctx, drafts, batch, now); rejection != "" {
		o.logger.Info("reservation request rejected", "user_id", sess.UserID, "reason", rejection)
		return o.relay(ctx, sess, replyText, rejection, now)
	}

	sess.BeginAwaiting(drafts, now)
	if err := o.sessions.Set(ctx, sess); err != nil {
		o.logger.Error("failed to save awaiting session", "user_id", sess.UserID, "error", err)
		return o.send(ctx, sess.UserID, msgSessionFailure)
	}
	o.logger.Info("awaiting deposit proof", "user_id", sess.UserID, "drafts", len(drafts))

	if len(drafts) == 1 {
		return o.send(ctx, sess.UserID, msgDepositSingle(o.club))
	}
	return o.send(ctx, sess.UserID, msgDepositBatch(o.club, len(drafts)))
}

// checkDrafts returns the rejection text for the first draft that cannot be
// held, or "" when every draft is bookable.
func (o *Orchestrator) checkDrafts(ctx context.Context, drafts []domain.Draft, batch bool, now time.Time) string {
	today := now.Format(domain.DateLayout)
	seen := make(map[string]bool, len(drafts))

	for _, d := range drafts {
		if d.Date < today {
			return resultPastDate(d.Date)
		}
		if d.Date == today {
			start, err := domain.SlotStart(d.Date, d.Time, now.Location())
			if err == nil && !start.After(now) {
				return resultPastSlot(d.Time, now.Format(domain.SlotLayout))
			}
		}

		key := d.Date + " " + gridKey(d.CourtID, d.Time)
		if seen[key] {
			return resultRepeatedSlot(d)
		}
		seen[key] = true

		free := o.avail.FreeCourts(ctx, d.Date, d.Time)
		if !slices.Contains(free, d.CourtID) {
			return resultCourtTaken(d, free, batch)
		}
	}
	return ""
}

// relay feeds a system result back to the model and sends its rephrasing,
// falling back to the raw result when the model is unavailable.
func (o *Orchestrator) relay(ctx context.Context, sess *domain.Session, replyText, result string, now time.Time) error {
	if replyText != "" {
		sess.Append(domain.Turn{Role: domain.RoleAssistant, Content: replyText})
	}
	sess.Append(domain.Turn{Role: domain.RoleUser, Content: wrapSystemResult(result)})

	final := result
	reply, err := o.extract(ctx, sess, now)
	switch {
	case err != nil:
		o.logger.Warn("result rephrasing failed, sending raw result", "user_id", sess.UserID, "error", err)
	case reply.Text != "":
		final = reply.Text
	}

	sess.Append(domain.Turn{Role: domain.RoleAssistant, Content: final})
	o.save(ctx, sess)
	return o.send(ctx, sess.UserID, final)
}

func (o *Orchestrator) escalate(ctx context.Context, sess *domain.Session, replyText, reason string) error {
	o.logger.Warn("conversation escalated to a human",
		"user_id", sess.UserID,
		"phone", sess.ConfirmedPhone,
		"reason", reason)

	text := replyText
	if text == "" {
		text = msgEscalated(o.club.AdminContact)
	}
	sess.Append(domain.Turn{Role: domain.RoleAssistant, Content: text})
	o.save(ctx, sess)
	return o.send(ctx, sess.UserID, text)
}

// query executes a read-only or cancellation action and renders its outcome.
func (o *Orchestrator) query(ctx context.Context, action domain.Action) string {
	switch a := action.(type) {
	case domain.CheckAvailability:
		return resultAvailability(a.Date, a.Time, o.avail.FreeCourts(ctx, a.Date, a.Time))
	case domain.ListReservations:
		return resultReservations(a.Phone, o.avail.ReservationsByPhone(ctx, a.Phone))
	case domain.ViewGrid:
		return o.avail.DailyGrid(ctx, a.Date)
	case domain.CancelReservation:
		outcome, r := o.cancel(ctx, a.ID)
		switch outcome {
		case cancelMissing:
			return resultNotFound(a.ID)
		case cancelAlready:
			return resultAlreadyCancelled(a.ID)
		case cancelDone:
			return resultCancelled(r)
		}
		return resultCancelFailed(a.ID)
	case domain.CancelReservations:
		lines := make([]string, 0, len(a.IDs))
		for _, id := range a.IDs {
			outcome, r := o.cancel(ctx, id)
			lines = append(lines, cancelBatchLine(id, outcome, r))
		}
		return "Resultado cancelaciones:\n" + strings.Join(lines, "\n")
	}
	return fmt.Sprintf("Accion no reconocida: %s.", action.Kind())
}

type cancelOutcome int

const (
	cancelFailed cancelOutcome = iota
	cancelMissing
	cancelAlready
	cancelDone
)

func (o *Orchestrator) cancel(ctx context.Context, id int64) (cancelOutcome, *domain.Reservation) {
	r, err := o.avail.ReservationByID(ctx, id)
	if err != nil {
		return cancelFailed, nil
	}
	if r == nil {
		return cancelMissing, nil
	}
	if !r.Active() {
		return cancelAlready, r
	}

	changed, err := o.avail.CancelReservation(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return cancelMissing, nil
	case err != nil:
		return cancelFailed, r
	case !changed:
		return cancelAlready, r
	}
	return cancelDone, r
}

// HandleImage processes one inbound image, treating it as a deposit proof
// when the session is awaiting one.
func (o *Orchestrator) HandleImage(ctx context.Context, userID, mediaID, mediaType string) error {
	sess, err := o.sessions.Get(ctx, userID)
	if err != nil {
		o.logger.Error("failed to load session", "user_id", userID, "error", err)
		return o.send(ctx, userID, msgImageFailed)
	}

	if !sess.AwaitingProof {
		return o.send(ctx, userID, msgNotAwaiting)
	}
	if len(sess.Pending) == 0 {
		sess.ResetAwaiting()
		o.save(ctx, sess)
		return o.send(ctx, userID, msgPendingLost)
	}

	if err := o.send(ctx, userID, msgVerifying); err != nil {
		return err
	}

	image, fetchedType, err := o.media.FetchMedia(ctx, mediaID)
	if err != nil || len(image) == 0 {
		o.logger.Warn("failed to download proof image", "user_id", userID, "media_id", mediaID, "error", err)
		return o.send(ctx, userID, msgMediaFailed)
	}
	if mediaType == "" {
		mediaType = fetchedType
	}

	now := o.now()
	pending := len(sess.Pending)
	deposit := o.club.Deposit
	total := pending * deposit

	verdict := o.verify(ctx, image, mediaType, total, now)
	accepted := total
	if !verdict.Valid && !verdict.Illegible && pending > 1 {
		if single := o.verify(ctx, image, mediaType, deposit, now); single.Valid {
			verdict = single
			accepted = deposit
		}
	}
	o.logger.Info("proof verified",
		"user_id", userID,
		"pending", pending,
		"accepted_amount", accepted,
		"valid", verdict.Valid,
		"illegible", verdict.Illegible,
		"reason", verdict.Reason)

	switch {
	case verdict.Illegible:
		return o.send(ctx, userID, msgIllegible)
	case !verdict.Valid && payment.IsTechnicalError(verdict.Reason):
		return o.send(ctx, userID, msgVerifyTechnical)
	case !verdict.Valid:
		return o.send(ctx, userID, msgProofRejected(verdict.Reason, total, o.club.Payee))
	}

	if o.avail.OperationUsed(ctx, verdict.OperationRef) {
		o.logger.Warn("proof operation reference already used",
			"user_id", userID,
			"operation_ref", verdict.OperationRef)
		return o.send(ctx, userID, msgProofReused(o.club.Payee))
	}

	if accepted >= total || pending == 1 {
		return o.settleAll(ctx, sess, verdict.OperationRef, now)
	}
	return o.settleFirst(ctx, sess, verdict.OperationRef, now)
}

func (o *Orchestrator) verify(ctx context.Context, image []byte, mediaType string, amount int, now time.Time) payment.Verdict {
	ctx, cancel := context.WithTimeout(ctx, o.visionTimeout)
	defer cancel()

	return o.verifier.Verify(ctx, image, mediaType, payment.Expectation{
		Amount: amount,
		Payee:  o.club.Payee,
		Date:   now,
	})
}

// settleAll creates every pending draft in order. The operation reference
// tags the first created reservation only. Creation stops at the first
// failure; drafts already created leave the pending list.
func (o *Orchestrator) settleAll(ctx context.Context, sess *domain.Session, ref string, now time.Time) error {
	var created []domain.Reservation
	var failure error
	for _, d := range sess.Pending {
		tag := ""
		if len(created) == 0 {
			tag = ref
		}
		r, err := o.avail.CreateReservation(ctx, d, tag, now)
		if err != nil {
			failure = err
			break
		}
		created = append(created, *r)
	}

	if failure != nil {
		if len(created) == 0 {
			return o.send(ctx, sess.UserID, o.creationFailureMessage(failure, sess.Pending[0]))
		}

		failed := sess.Pending[len(created)]
		sess.Pending = sess.Pending[len(created):]
		sess.RememberIdentity("", created[0].ClientPhone)
		sess.History = nil
		o.save(ctx, sess)
		o.logger.Warn("batch settlement interrupted",
			"user_id", sess.UserID,
			"created", len(created),
			"remaining", len(sess.Pending),
			"error", failure)
		return o.send(ctx, sess.UserID,
			msgBatchInterrupted(created, failed, len(sess.Pending), o.club.AdminContact))
	}

	phone := sess.Pending[0].Phone
	sess.ResetAwaiting()
	sess.History = nil
	sess.RememberIdentity("", phone)
	o.save(ctx, sess)
	o.logger.Info("booking settled", "user_id", sess.UserID, "reservations", len(created))
	return o.send(ctx, sess.UserID, msgConfirmed(created))
}

// settleFirst creates only the first pending draft and keeps the rest awaiting.
func (o *Orchestrator) settleFirst(ctx context.Context, sess *domain.Session, ref string, now time.Time) error {
	first := sess.Pending[0]
	r, err := o.avail.CreateReservation(ctx, first, ref, now)
	if err != nil {
		msg := o.creationFailureMessage(err, first)
		if !errors.Is(err, store.ErrDuplicate) {
			msg = msgPartialSaveFailed
		}
		return o.send(ctx, sess.UserID, msg)
	}

	sess.Pending = sess.Pending[1:]
	sess.RememberIdentity("", first.Phone)
	sess.History = nil
	o.save(ctx, sess)
	o.logger.Info("partial settlement",
		"user_id", sess.UserID,
		"reservation_id", r.ID,
		"remaining", len(sess.Pending))
	return o.send(ctx, sess.UserID, msgPartialConfirmed(*r, len(sess.Pending), o.club.Deposit))
}

func (o *Orchestrator) creationFailureMessage(err error, d domain.Draft) string {
	switch {
	case errors.Is(err, store.ErrOperationUsed):
		return msgProofReused(o.club.Payee)
	case errors.Is(err, store.ErrSlotTaken):
		return msgSlotLost(d)
	}
	return msgSaveFailed
}

func (o *Orchestrator) save(ctx context.Context, sess *domain.Session) {
	if err := o.sessions.Set(ctx, sess); err != nil {
		o.logger.Error("failed to save session", "user_id", sess.UserID, "error", err)
	}
}

func (o *Orchestrator) send(ctx context.Context, userID, body string) error {
	if err := o.sender.SendText(ctx, userID, body); err != nil {
		o.logger.Error("failed to send message", "user_id", userID, "error", err)
		return fmt.Errorf("send to %s: %w", userID, err)
	}
	return nil
}
