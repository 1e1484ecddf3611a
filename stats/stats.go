package stats

// Summary accumulates counters over one run of the mailbox. The run loop is
// strictly sequential, so plain fields suffice.
type Summary struct {
	Messages      int
	TasksCreated  int
	TasksUpdated  int
	TasksReopened int
	UsersCreated  int
	Attachments   int
	DryRunSkipped int
}

// LogAttrs renders the summary as slog key/value pairs.
func (s Summary) LogAttrs() []any {
	return []any{
		"messages", s.Messages,
		"tasksCreated", s.TasksCreated,
		"tasksUpdated", s.TasksUpdated,
		"tasksReopened", s.TasksReopened,
		"usersCreated", s.UsersCreated,
		"attachments", s.Attachments,
		"dryRunSkipped", s.DryRunSkipped,
	}
}
