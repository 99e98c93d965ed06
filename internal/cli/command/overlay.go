package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage"
	"github.com/fugue-ai/rhema-sub010/internal/storage/overlay"
)

// SessionCommand inspects agent sessions.
func SessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Inspect agent sessions",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List stored agent sessions",
				Action: sessionList,
			},
			{
				Name:      "get",
				Usage:     "Show one agent session",
				ArgsUsage: "AGENT_ID",
				Action:    sessionGet,
			},
			{
				Name:      "delete",
				Usage:     "Delete an agent session",
				ArgsUsage: "AGENT_ID",
				Action:    sessionDelete,
			},
		},
	}
}

// overlayIDs returns the ids of stored entries under prefix. The overlay
// caches are empty in a fresh process, so the store's index is the source.
func overlayIDs(ctx context.Context, m *storage.Manager, tag, prefix string) []string {
	var ids []string
	for _, key := range m.ListByTag(ctx, tag) {
		if id, ok := strings.CutPrefix(key, prefix); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func sessionList(c *cli.Context) error {
	return withStore(c, func(e *env, m *storage.Manager) error {
		s := overlay.NewAgentSessionStore(m, overlay.WithLogger(e.logger))
		defer s.Close()

		rows := []sessionRow{}
		for _, id := range overlayIDs(c.Context, m, overlay.SessionTag, overlay.SessionKeyPrefix) {
			sess, err := s.RetrieveSession(c.Context, id)
			if err != nil {
				e.status.Warningf("%s: %v", id, err)
				continue
			}
			if sess == nil {
				continue
			}
			rows = append(rows, sessionRow{
				AgentID:      sess.AgentID,
				SessionID:    sess.SessionID,
				Status:       string(sess.Status),
				CurrentTask:  sess.CurrentTask,
				LastActivity: sess.LastActivity,
				Events:       len(sess.History),
			})
		}
		return e.print(rows)
	})
}

type sessionRow struct {
	AgentID      string    `json:"agent_id" yaml:"agent_id"`
	SessionID    string    `json:"session_id" yaml:"session_id" table:",wide"`
	Status       string    `json:"status" yaml:"status"`
	CurrentTask  string    `json:"current_task" yaml:"current_task" table:"task"`
	LastActivity time.Time `json:"last_activity" yaml:"last_activity"`
	Events       int       `json:"events" yaml:"events" table:",wide"`
}

func sessionGet(c *cli.Context) error {
	if err := requireArgs(c, 1, "AGENT_ID"); err != nil {
		return err
	}
	return withStore(c, func(e *env, m *storage.Manager) error {
		s := overlay.NewAgentSessionStore(m, overlay.WithLogger(e.logger))
		defer s.Close()

		sess, err := s.RetrieveSession(c.Context, c.Args().First())
		if err != nil {
			return err
		}
		if sess == nil {
			return domain.ErrEntryNotFound.WithDetails("no session for agent " + c.Args().First())
		}
		return e.print(sess)
	})
}

func sessionDelete(c *cli.Context) error {
	if err := requireArgs(c, 1, "AGENT_ID"); err != nil {
		return err
	}
	return withStore(c, func(e *env, m *storage.Manager) error {
		s := overlay.NewAgentSessionStore(m, overlay.WithLogger(e.logger))
		defer s.Close()

		removed, err := s.DeleteSession(c.Context, c.Args().First())
		if err != nil {
			return err
		}
		if !removed {
			return domain.ErrEntryNotFound.WithDetails("no session for agent " + c.Args().First())
		}
		e.status.Successf("deleted session of %s", c.Args().First())
		return nil
	})
}

// WorkflowCommand inspects workflows.
func WorkflowCommand() *cli.Command {
	return &cli.Command{
		Name:    "workflow",
		Aliases: []string{"wf"},
		Usage:   "Inspect workflows",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List stored workflows",
				Action: workflowList,
			},
			{
				Name:      "get",
				Usage:     "Show one workflow",
				ArgsUsage: "WORKFLOW_ID",
				Action:    workflowGet,
			},
			{
				Name:      "delete",
				Usage:     "Delete a workflow",
				ArgsUsage: "WORKFLOW_ID",
				Action:    workflowDelete,
			},
		},
	}
}

type workflowRow struct {
	WorkflowID string    `json:"workflow_id" yaml:"workflow_id"`
	Name       string    `json:"name" yaml:"name"`
	Status     string    `json:"status" yaml:"status"`
	Step       string    `json:"step" yaml:"step"`
	RunID      string    `json:"run_id" yaml:"run_id" table:",wide"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at" table:"updated"`
}

func workflowList(c *cli.Context) error {
	return withStore(c, func(e *env, m *storage.Manager) error {
		s := overlay.NewWorkflowStore(m, overlay.WithLogger(e.logger))
		defer s.Close()

		rows := []workflowRow{}
		for _, id := range overlayIDs(c.Context, m, overlay.WorkflowTag, overlay.WorkflowKeyPrefix) {
			w, err := s.RetrieveWorkflow(c.Context, id)
			if err != nil {
				e.status.Warningf("%s: %v", id, err)
				continue
			}
			if w == nil {
				continue
			}
			rows = append(rows, workflowRow{
				WorkflowID: w.WorkflowID,
				Name:       w.Name,
				Status:     string(w.Status),
				Step:       fmt.Sprintf("%d/%d", min(w.CurrentStep+1, len(w.Steps)), len(w.Steps)),
				RunID:      w.RunID,
				UpdatedAt:  w.UpdatedAt,
			})
		}
		return e.print(rows)
	})
}

func workflowGet(c *cli.Context) error {
	if err := requireArgs(c, 1, "WORKFLOW_ID"); err != nil {
		return err
	}
	return withStore(c, func(e *env, m *storage.Manager) error {
		s := overlay.NewWorkflowStore(m, overlay.WithLogger(e.logger))
		defer s.Close()

		w, err := s.RetrieveWorkflow(c.Context, c.Args().First())
		if err != nil {
			return err
		}
		if w == nil {
			return domain.ErrEntryNotFound.WithDetails("no workflow " + c.Args().First())
		}
		return e.print(w)
	})
}

func workflowDelete(c *cli.Context) error {
	if err := requireArgs(c, 1, "WORKFLOW_ID"); err != nil {
		return err
	}
	return withStore(c, func(e *env, m *storage.Manager) error {
		s := overlay.NewWorkflowStore(m, overlay.WithLogger(e.logger))
		defer s.Close()

		removed, err := s.DeleteWorkflow(c.Context, c.Args().First())
		if err != nil {
			return err
		}
		if !removed {
			return domain.ErrEntryNotFound.WithDetails("no workflow " + c.Args().First())
		}
		e.status.Successf("deleted workflow %s", c.Args().First())
		return nil
	})
}
