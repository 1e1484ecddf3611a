package runner

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	imapv2 "github.com/emersion/go-imap/v2"

	"github.com/radiorabe/kanboard-tasks-from-email/config"
	"github.com/radiorabe/kanboard-tasks-from-email/kanboard"
	"github.com/radiorabe/kanboard-tasks-from-email/kbdate"
	"github.com/radiorabe/kanboard-tasks-from-email/message"
	"github.com/radiorabe/kanboard-tasks-from-email/model"
	"github.com/radiorabe/kanboard-tasks-from-email/stats"
)

var (
	taskRefRe   = regexp.MustCompile(`\[KB#\d+`)
	addressRe   = regexp.MustCompile(`\S+@\S+`)
	subjectSafe = regexp.MustCompile(`[^\p{L}\p{N}_.)( -]`)
)

var angleReplacer = strings.NewReplacer("<", "", ">", "")

// MailSession is the slice of the IMAP session the run loop consumes.
type MailSession interface {
	SearchUnseen() ([]imapv2.UID, error)
	Fetch(uid imapv2.UID, peek bool) (model.Message, error)
}

// Runner converts unseen messages into Kanboard tasks, one at a time. A
// failure on any message aborts the run; messages already marked seen by
// their fetch are picked up manually, the rest stay queued for the next run.
type Runner struct {
	cfg     config.Config
	kb      kanboard.API
	logger  *slog.Logger
	summary stats.Summary
}

func New(cfg config.Config, kb kanboard.API, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, kb: kb, logger: logger}
}

// Run processes every unseen message in the selected mailbox sequentially.
// The returned summary is valid even when an error is returned.
func (r *Runner) Run(ctx context.Context, session MailSession) (stats.Summary, error) {
	uids, err := session.SearchUnseen()
	if err != nil {
		return r.summary, err
	}

	r.logger.Info("unseen messages found", "count", len(uids))

	for _, uid := range uids {
		msg, err := session.Fetch(uid, r.cfg.DryRun)
		if err != nil {
			return r.summary, err
		}
		if err := r.Process(ctx, msg.Raw); err != nil {
			return r.summary, fmt.Errorf("process message %d: %w", uid, err)
		}
		r.summary.Messages++
	}

	return r.summary, nil
}

// Process handles a single raw message end to end: parse, resolve sender and
// dates, decide create-vs-update, and file the original mail on the task.
func (r *Runner) Process(ctx context.Context, raw []byte) error {
	parsed, err := message.Parse(raw)
	if err != nil {
		return err
	}

	startDate, startOK := kbdate.Normalize(parsed.Date, 0)
	dueDate, dueOK := kbdate.Normalize(parsed.Date, r.cfg.DueOffsetHours)

	sender, err := senderAddress(parsed.From)
	if err != nil {
		return err
	}

	// Mail forwarded from a well-known address carries the true sender and
	// timestamp in its body, not its envelope.
	if fwdSender, dateLine, ok := message.Forwarded(parsed.Body, r.cfg.WellKnownForwarders); ok {
		sender = fwdSender
		startDate, startOK = kbdate.Normalize(dateLine, 0)
		dueDate, dueOK = kbdate.Normalize(dateLine, r.cfg.DueOffsetHours)
		r.logger.Debug("forwarded mail detected", "sender", sender)
	}

	description := composeDescription(parsed, startDate, startOK)

	refID, task, err := r.resolveTaskReference(ctx, parsed.Subject)
	if err != nil {
		return err
	}

	if r.cfg.DryRun {
		return r.dryRun(parsed, sender, refID, task)
	}

	userID, err := r.resolveSender(ctx, sender)
	if err != nil {
		return err
	}

	if r.cfg.GroupID > 0 {
		if err := r.kb.AddGroupMember(ctx, r.cfg.GroupID, userID); err != nil {
			r.logger.Warn("group enrollment failed", "group", r.cfg.GroupID, "user", userID, "err", err)
		}
	}

	project, err := r.kb.GetProjectByName(ctx, r.cfg.ProjectName)
	if err != nil {
		return err
	}
	if project == nil {
		return fmt.Errorf("project %q not found", r.cfg.ProjectName)
	}

	var taskID kanboard.ID
	if task != nil {
		taskID = kanboard.ID(refID)
		if err := r.reopenAndUpdate(ctx, task, refID, userID, description, dueDate, dueOK); err != nil {
			return err
		}
		r.summary.TasksUpdated++
		r.logger.Info("task updated", "task", refID, "sender", sender)
	} else {
		req := kanboard.TaskRequest{
			ProjectID:   string(project.ID),
			Title:       parsed.Subject,
			CreatorID:   userID,
			Description: description,
		}
		if startOK {
			req.DateStarted = startDate
		}
		if dueOK {
			req.DateDue = dueDate
		}
		taskID, err = r.kb.CreateTask(ctx, req)
		if err != nil {
			return err
		}
		r.summary.TasksCreated++
		r.logger.Info("task created", "task", taskID, "title", parsed.Subject, "sender", sender)
	}

	if !taskID.Valid() {
		return nil
	}

	return r.attach(ctx, project, taskID, parsed, raw)
}

// reopenAndUpdate reopens a closed task and appends the message as a comment.
// Comment and due-date update happen regardless of the prior task state.
func (r *Runner) reopenAndUpdate(ctx context.Context, task *kanboard.Task, taskID string, userID kanboard.ID, description, dueDate string, dueOK bool) error {
	if !bool(task.IsActive) {
		if err := r.kb.OpenTask(ctx, taskID); err != nil {
			return err
		}
		r.summary.TasksReopened++
	}
	if err := r.kb.CreateComment(ctx, taskID, userID, description); err != nil {
		return err
	}
	due := ""
	if dueOK {
		due = dueDate
	}
	return r.kb.UpdateTaskDueDate(ctx, taskID, due)
}

// attach files the original message as <sanitized subject>.mbox, then every
// extracted attachment, all base64 encoded as the API expects.
func (r *Runner) attach(ctx context.Context, project *kanboard.Project, taskID kanboard.ID, parsed *message.Mail, raw []byte) error {
	archiveName := subjectSafe.ReplaceAllString(parsed.Subject, "_") + ".mbox"

	if err := r.kb.CreateTaskFile(ctx, string(project.ID), string(taskID), archiveName, base64.StdEncoding.EncodeToString(raw)); err != nil {
		return err
	}
	r.summary.Attachments++

	names := make([]string, 0, len(parsed.Attachments))
	for name := range parsed.Attachments {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		blob := base64.StdEncoding.EncodeToString(parsed.Attachments[name])
		if err := r.kb.CreateTaskFile(ctx, string(project.ID), string(taskID), name, blob); err != nil {
			return err
		}
		r.summary.Attachments++
	}

	return nil
}

// resolveTaskReference scans the subject for task tags. The last tag wins and
// its digits are kept verbatim. An id whose lookup comes back empty is
// reported with a nil task; the caller then takes the create path.
func (r *Runner) resolveTaskReference(ctx context.Context, subject string) (string, *kanboard.Task, error) {
	refs := taskRefRe.FindAllString(subject, -1)
	if len(refs) == 0 {
		return "", nil, nil
	}

	id := strings.TrimPrefix(refs[len(refs)-1], "[KB#")
	task, err := r.kb.GetTask(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return id, task, nil
}

// resolveSender finds the Kanboard user for an email address, creating one
// (username, password and email all set to the address) when none exists.
func (r *Runner) resolveSender(ctx context.Context, address string) (kanboard.ID, error) {
	users, err := r.kb.GetAllUsers(ctx)
	if err != nil {
		return "", err
	}
	for _, user := range users {
		if user.Email == address {
			return user.ID, nil
		}
	}

	id, err := r.kb.CreateUser(ctx, address, address, address)
	if err != nil {
		return "", err
	}
	r.summary.UsersCreated++
	r.logger.Info("user created", "user", id, "email", address)
	return id, nil
}

// dryRun logs the decision that would have been taken and skips every
// mutating call. The message stays unseen because the fetch used peek.
func (r *Runner) dryRun(parsed *message.Mail, sender, refID string, task *kanboard.Task) error {
	if task != nil {
		r.logger.Info("dry-run: would update task", "task", refID, "sender", sender)
	} else {
		r.logger.Info("dry-run: would create task", "title", parsed.Subject, "sender", sender)
	}
	r.summary.DryRunSkipped++
	return nil
}

// composeDescription renders the fixed task description template. Absent
// values render as the literal "None", matching what replies and tests have
// relied on historically.
func composeDescription(parsed *message.Mail, startDate string, startOK bool) string {
	return fmt.Sprintf("From: %s\n\nTo: %s\n\nDate: %s\n\nSubject: %s\n\n%s",
		orNone(parsed.From != "", parsed.From),
		orNone(parsed.To != "", parsed.To),
		orNone(startOK, startDate),
		orNone(parsed.Subject != "", parsed.Subject),
		orNone(parsed.HasBody, parsed.Body),
	)
}

func orNone(ok bool, value string) string {
	if !ok {
		return "None"
	}
	return value
}

// senderAddress extracts the email address from a From header, taking the
// last address-shaped token and stripping angle brackets.
func senderAddress(from string) (string, error) {
	addresses := addressRe.FindAllString(from, -1)
	if len(addresses) == 0 {
		return "", fmt.Errorf("no sender address in From header %q", from)
	}
	return angleReplacer.Replace(addresses[len(addresses)-1]), nil
}
