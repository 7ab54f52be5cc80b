package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lectern/lectern/internal/domain"
	"github.com/lectern/lectern/internal/feeds"
)

const taskTimeout = 10 * time.Minute

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "lectern",
		Short:         "Borrow, download and return books from catalog feeds",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		syncCommand(),
		borrowCommand(),
		revokeCommand(),
		deleteCommand(),
		dismissCommand(),
		listCommand(),
		searchCommand(),
		loginCommand(),
		logoutCommand(),
	)
	return root
}

// withApp wires the application, runs fn, and tears down afterwards.
func withApp(fn func(a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		return fn(a, cmd, args)
	}
}

func wait(handle interface {
	Wait(ctx context.Context) error
}) error {
	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()
	return handle.Wait(ctx)
}

func syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile loans and holds with the server",
		Args:  cobra.NoArgs,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			if err := wait(a.controller.Sync(a.account)); err != nil {
				return err
			}
			fmt.Printf("Synced %d books\n", len(a.books.Books()))
			return nil
		}),
	}
}

func borrowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "borrow <entry-uri>",
		Short: "Borrow and download a book from a catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
			defer cancel()

			var creds *domain.Credentials
			if stored, ok := a.account.Credentials(); ok {
				creds = &stored
			}

			client := feeds.NewClient(a.logger)
			entry, err := client.FetchEntry(ctx, args[0], creds, http.MethodGet)
			if err != nil {
				return fmt.Errorf("failed to fetch entry: %w", err)
			}

			acq, ok := preferredAcquisition(entry)
			if !ok {
				return domain.ErrNoUsableAcquisition
			}

			id := entry.BookID()
			if err := wait(a.controller.Borrow(a.account, id, acq, entry)); err != nil {
				return err
			}

			status, _ := a.registry.Status(id)
			fmt.Printf("%s: %s\n", entry.Title, describeStatus(status))
			return nil
		}),
	}
}

func revokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <book-id>",
		Short: "Return a loan or cancel a hold",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			id, err := a.resolveBookID(args[0])
			if err != nil {
				return err
			}
			if err := wait(a.controller.Revoke(a.account, id)); err != nil {
				return err
			}
			fmt.Println("Revoked")
			return nil
		}),
	}
}

func deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <book-id>",
		Short: "Delete a book and its local artifact",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			id, err := a.resolveBookID(args[0])
			if err != nil {
				return err
			}
			if err := wait(a.controller.Delete(a.account, id)); err != nil {
				return err
			}
			fmt.Println("Deleted")
			return nil
		}),
	}
}

func dismissCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <book-id>",
		Short: "Clear a failed borrow or revoke status",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			id, err := a.resolveBookID(args[0])
			if err != nil {
				return err
			}
			if err := wait(a.controller.DismissBorrowFailure(a.account, id)); err != nil {
				return err
			}
			return wait(a.controller.DismissRevokeFailure(a.account, id))
		}),
	}
}

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known books and their statuses",
		Args:  cobra.NoArgs,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			all := a.registry.All()
			if len(all) == 0 {
				fmt.Println("No books")
				return nil
			}
			for _, bws := range all {
				fmt.Printf("%-12s  %-20s  %s\n",
					shortID(bws.Book.ID), describeStatus(bws.Status), bws.Book.Entry.Title)
			}
			return nil
		}),
	}
}

func searchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Fuzzy-search known books by title and author",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			results := a.search.Search(strings.Join(args, " "))
			if len(results) == 0 {
				fmt.Println("No matches")
				return nil
			}
			for _, res := range results {
				fmt.Printf("%-12s  %-20s  %s\n",
					shortID(res.Book.Book.ID), describeStatus(res.Book.Status), res.Book.Book.Entry.Title)
			}
			return nil
		}),
	}
}

func loginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login <username>",
		Short: "Store credentials for the configured account",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			fmt.Print("Password: ")
			reader := bufio.NewReader(os.Stdin)
			password, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}

			creds := domain.Credentials{
				Username: args[0],
				Password: strings.TrimSpace(password),
			}
			if err := wait(a.controller.Login(a.account, creds)); err != nil {
				return err
			}
			fmt.Println("Logged in")
			return nil
		}),
	}
}

func logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear stored credentials",
		Args:  cobra.NoArgs,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			if err := a.controller.Logout(a.account); err != nil {
				return err
			}
			fmt.Println("Logged out")
			return nil
		}),
	}
}

// preferredAcquisition picks the acquisition the borrow task should
// exercise: an explicit borrow link first, then open access, then
// generic.
func preferredAcquisition(entry domain.CatalogEntry) (domain.Acquisition, bool) {
	order := []domain.AcquisitionRelation{
		domain.AcquisitionBorrow,
		domain.AcquisitionOpenAccess,
		domain.AcquisitionGeneric,
	}
	for _, relation := range order {
		for _, acq := range entry.Acquisitions {
			if acq.Relation == relation {
				return acq, true
			}
		}
	}
	return domain.Acquisition{}, false
}

func describeStatus(status domain.BookStatus) string {
	if status == nil {
		return "unknown"
	}
	switch s := status.(type) {
	case domain.StatusHeld:
		if s.QueuePosition != nil {
			return fmt.Sprintf("held (queue %d)", *s.QueuePosition)
		}
		return "held"
	case domain.StatusDownloadInProgress:
		if s.ExpectedBytes > 0 {
			return fmt.Sprintf("downloading %d%%", 100*s.CurrentBytes/s.ExpectedBytes)
		}
		return "downloading"
	case domain.StatusDownloadFailed:
		return fmt.Sprintf("failed: %v", s.Err)
	case domain.StatusRevokeFailed:
		return fmt.Sprintf("revoke failed: %v", s.Err)
	default:
		return domain.StatusName(status)
	}
}

func shortID(id domain.BookID) string {
	if len(id) > 12 {
		return string(id[:12])
	}
	return string(id)
}
