// cmd/lendctl/commands.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"lendingdesk/internal/catalog"
	"lendingdesk/internal/clients"
)

type cli struct {
	out     io.Writer
	server  string
	timeout time.Duration
}

func (c *cli) client() *clients.LendingClient {
	return clients.NewLendingClient(c.server, &http.Client{Timeout: c.timeout})
}

func (c *cli) print(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "lendctl",
		Short:         "Operate a lending desk over its HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	server := os.Getenv("LENDINGDESK_URL")
	if server == "" {
		server = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&c.server, "server", server, "lending desk base URL")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		c.booksCmd(),
		c.loanCmd(),
		c.returnCmd(),
		c.waitlistCmd(),
		c.notifyNextCmd(),
		c.dueRemindersCmd(),
		c.userCmd(),
		c.historyCmd(),
		c.eventsCmd(),
		c.relayedCmd(),
	)
	return root
}

func (c *cli) booksCmd() *cobra.Command {
	books := &cobra.Command{Use: "books", Short: "Manage the catalog"}

	var order string
	list := &cobra.Command{
		Use:   "list",
		Short: "List books in a view order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := c.client().ListBooks(cmd.Context(), order)
			if err != nil {
				return err
			}
			return c.print(found)
		},
	}
	list.Flags().StringVar(&order, "order", "", "title, author, year, year_desc, genre, popularity, available, unavailable or loaned")

	var by string
	search := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search books by title, author, genre or year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := c.client().SearchBooks(cmd.Context(), by, args[0])
			if err != nil {
				return err
			}
			return c.print(found)
		},
	}
	search.Flags().StringVar(&by, "by", "title", "field to search")

	var book catalog.Book
	add := &cobra.Command{
		Use:   "add TITLE",
		Short: "Add a book or more copies of it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			book.Title = args[0]
			added, err := c.client().AddBook(cmd.Context(), book)
			if err != nil {
				return err
			}
			return c.print(added)
		},
	}
	add.Flags().StringVar(&book.Author, "author", "", "author")
	add.Flags().StringVar(&book.Genre, "genre", "", "genre")
	add.Flags().IntVar(&book.Year, "year", 0, "publication year")
	add.Flags().IntVar(&book.TotalCopies, "copies", 1, "copies owned")

	show := &cobra.Command{
		Use:   "show TITLE",
		Short: "Show copy counts and the waiting list of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.client().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(st)
		},
	}

	copies := &cobra.Command{
		Use:   "copies TITLE DELTA",
		Short: "Add or withdraw copies",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid delta %q", args[1])
			}
			updated, err := c.client().AddCopies(cmd.Context(), args[0], delta)
			if err != nil {
				return err
			}
			return c.print(updated)
		},
	}

	remove := &cobra.Command{
		Use:   "remove TITLE",
		Short: "Remove a book with no copies on loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client().RemoveBook(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "removed '%s'\n", args[0])
			return nil
		},
	}

	books.AddCommand(list, search, add, show, copies, remove)
	return books
}

func (c *cli) loanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "loan TITLE USER",
		Short: "Lend a copy, or queue the user when none is left",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.client().Loan(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if res.Waitlisted {
				fmt.Fprintf(c.out, "no copy of '%s' available: %s is number %d in line\n", args[0], args[1], res.Position)
				return nil
			}
			fmt.Fprintf(c.out, "lent '%s' to %s, due %s\n", res.Loan.Title, res.Loan.User, res.Loan.DueAt.Format(time.DateOnly))
			return nil
		},
	}
}

func (c *cli) returnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "return TITLE USER",
		Short: "Take back a copy and notify the next in line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client().Return(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s returned '%s'\n", args[1], args[0])
			return nil
		},
	}
}

func (c *cli) waitlistCmd() *cobra.Command {
	wl := &cobra.Command{Use: "waitlist", Short: "Manage waiting lists"}

	join := &cobra.Command{
		Use:   "join TITLE USER",
		Short: "Queue a user for a title",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := c.client().JoinWaitlist(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s is number %d in line for '%s'\n", args[1], pos, args[0])
			return nil
		},
	}

	leave := &cobra.Command{
		Use:   "leave TITLE USER",
		Short: "Remove a user from a waiting list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client().LeaveWaitlist(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s left the line for '%s'\n", args[1], args[0])
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show TITLE",
		Short: "Print the waiting list of a title, head first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := c.client().Waitlist(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(queue)
		},
	}

	wl.AddCommand(join, leave, show)
	return wl
}

func (c *cli) notifyNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify-next TITLE",
		Short: "Remind the head of the waiting list without dequeuing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := c.client().NotifyNextInLine(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(n)
		},
	}
}

func (c *cli) dueRemindersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "due-reminders",
		Short: "Send due-soon reminders now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			notes, err := c.client().SendDueReminders(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(notes)
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history TITLE",
		Short: "Show the journaled events of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := c.client().History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(events)
		},
	}
}

func (c *cli) eventsCmd() *cobra.Command {
	var after int64
	var limit int
	events := &cobra.Command{
		Use:   "events",
		Short: "Page through the journal of every book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := c.client().Events(cmd.Context(), after, limit)
			if err != nil {
				return err
			}
			return c.print(found)
		},
	}
	events.Flags().Int64Var(&after, "after", 0, "only events with a larger id")
	events.Flags().IntVar(&limit, "limit", 100, "page size")
	return events
}

func (c *cli) relayedCmd() *cobra.Command {
	var count int
	relayed := &cobra.Command{
		Use:   "relayed",
		Short: "Show the newest notifications relayed to Redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			notes, err := c.client().RecentNotifications(cmd.Context(), count)
			if err != nil {
				return err
			}
			return c.print(notes)
		},
	}
	relayed.Flags().IntVar(&count, "count", 20, "how many to show")
	return relayed
}

func (c *cli) userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Inspect a user's loans, queues and notifications"}

	loans := &cobra.Command{
		Use:  "loans USER",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			held, err := c.client().CurrentLoans(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(held)
		},
	}

	waitlists := &cobra.Command{
		Use:  "waitlist USER",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			positions, err := c.client().WaitlistPositions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(positions)
		},
	}

	unread := &cobra.Command{
		Use:   "notifications USER",
		Short: "Fetch and clear undelivered notifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			notes, err := c.client().UnreadNotifications(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(notes)
		},
	}

	var clearInbox bool
	inbox := &cobra.Command{
		Use:   "inbox USER",
		Short: "Print every notification sent to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearInbox {
				return c.client().ClearInbox(cmd.Context(), args[0])
			}
			notes, err := c.client().Inbox(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(notes)
		},
	}
	inbox.Flags().BoolVar(&clearInbox, "clear", false, "empty the inbox instead of printing it")

	subscribe := &cobra.Command{
		Use:  "subscribe USER",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := c.client().Subscribe(cmd.Context(), args[0])
			return err
		},
	}

	unsubscribe := &cobra.Command{
		Use:  "unsubscribe USER",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := c.client().Unsubscribe(cmd.Context(), args[0])
			return err
		},
	}

	user.AddCommand(loans, waitlists, unread, inbox, subscribe, unsubscribe)
	return user
}
