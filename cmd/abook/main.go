package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/denismitr/abook"
	"github.com/denismitr/abook/internal/config"
	"github.com/denismitr/abook/internal/logger"
	"github.com/denismitr/abook/internal/transfer"
	"github.com/denismitr/abook/internal/tui"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var errNotFound = errors.New("no matching contact")

const flushTimeout = 10 * time.Second

// Globals are the flags shared by every command.
type Globals struct {
	Config   string `help:"Config file, abook.yaml in . or the user config dir by default." type:"path"`
	File     string `help:"Backing file of the address book." short:"f" type:"path"`
	Format   string `help:"Backing file format: framed or legacy."`
	LogLevel string `help:"Log level: debug, info, warn or error."`

	stdout io.Writer
	stderr io.Writer
}

// CLI is the top-level command structure for abook.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version." short:"V"`
	List    ListCmd          `cmd:"" help:"List contacts."`
	Add     AddCmd           `cmd:"" help:"Add a contact."`
	Delete  DeleteCmd        `cmd:"" help:"Delete a contact by id or by its fields."`
	Update  UpdateCmd        `cmd:"" help:"Change fields of a contact."`
	Import  ImportCmd        `cmd:"" help:"Add contacts from a JSON file."`
	Export  ExportCmd        `cmd:"" help:"Write all contacts as JSON or YAML."`
	Migrate MigrateCmd       `cmd:"" help:"Copy contacts from one backing file format to another."`
	Tui     TuiCmd           `cmd:"" help:"Open the interactive address book."`
}

type session struct {
	store      *abook.Store
	closeStore abook.Closer
	closeLog   logger.Closer
	logger     zerolog.Logger
}

func (g *Globals) out() io.Writer {
	if g.stdout == nil {
		return os.Stdout
	}
	return g.stdout
}

func (g *Globals) errOut() io.Writer {
	if g.stderr == nil {
		return os.Stderr
	}
	return g.stderr
}

func (g *Globals) settings() (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}

	if g.Format != "" {
		cfg.SetFormat(g.Format)
	}
	if g.File != "" {
		cfg.File = g.File
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}

	return cfg, nil
}

func openStore(path, format string, cfg *config.Config, lg zerolog.Logger) (*abook.Store, abook.Closer, error) {
	return abook.New(path, &abook.Config{
		Format:              abook.Format(format),
		QueueSize:           cfg.QueueSize,
		DisableAtomicWrites: !cfg.AtomicWrites,
		Logger:              &lg,
	})
}

// open loads settings and opens the configured store. The caller must
// call finish.
func (g *Globals) open() (*session, error) {
	cfg, err := g.settings()
	if err != nil {
		return nil, err
	}

	lg, closeLog := logger.New(&cfg.Log, g.errOut())

	store, closeStore, err := openStore(cfg.File, cfg.Format, cfg, lg)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	return &session{store: store, closeStore: closeStore, closeLog: closeLog, logger: lg}, nil
}

// finish waits for pending saves and releases the store and the log file.
func (s *session) finish() error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	err := s.store.Flush(ctx)
	if closeErr := s.closeStore(); closeErr != nil && err == nil {
		err = closeErr
	}

	_ = s.closeLog()
	if err != nil {
		return errors.Wrap(err, "could not save contacts")
	}

	return nil
}

func withSession(g *Globals, fn func(s *session) error) error {
	s, err := g.open()
	if err != nil {
		return err
	}

	runErr := fn(s)
	if err := s.finish(); err != nil && runErr == nil {
		runErr = err
	}

	return runErr
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// ListCmd prints every contact with its id.
type ListCmd struct {
	Plain bool `help:"Force plain text output even if stdout is a TTY."`
}

var idStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(6)

func (c *ListCmd) Run(g *Globals) error {
	return withSession(g, func(s *session) error {
		return c.render(g.out(), s.store.Entries(), !c.Plain && isTerminal(g.out()))
	})
}

func (c *ListCmd) render(w io.Writer, entries []abook.Entry, styled bool) error {
	for _, ent := range entries {
		var err error
		if styled {
			_, err = fmt.Fprintln(w, idStyle.Render(ent.ID.String())+ent.Record.String())
		} else {
			_, err = fmt.Fprintf(w, "%s\t%s\n", ent.ID, ent.Record.String())
		}

		if err != nil {
			return errors.Wrap(err, "could not write contacts")
		}
	}

	return nil
}

type RecordFlags struct {
	Phone    string `help:"Phone number."`
	Email    string `help:"Email address."`
	Address  string `help:"Postal address."`
	Birthday string `help:"Birthday."`
}

// AddCmd appends a contact.
type AddCmd struct {
	Name string `arg:"" help:"Contact name."`
	RecordFlags
}

func (c *AddCmd) Run(g *Globals) error {
	return withSession(g, func(s *session) error {
		op := s.store.Add(abook.NewRecord(c.Name, c.Phone, c.Email, c.Address, c.Birthday))
		if err := op.Wait(context.Background()); err != nil {
			return errors.Wrap(err, "could not add contact")
		}

		fmt.Fprintf(g.out(), "added %s\n", op.ID())
		return nil
	})
}

// DeleteCmd removes one contact, by id or by the first record matching
// all fields.
type DeleteCmd struct {
	ID   string `help:"Id of the contact." xor:"target"`
	Name string `help:"Name of the contact." xor:"target"`
	RecordFlags
}

func (c *DeleteCmd) Run(g *Globals) error {
	if c.ID == "" && c.Name == "" {
		return errors.New("either --id or --name is required")
	}

	var id abook.ID
	if c.ID != "" {
		var err error
		if id, err = abook.ParseID(c.ID); err != nil {
			return err
		}
	}

	return withSession(g, func(s *session) error {
		var op *abook.Op
		if id != 0 {
			op = s.store.DeleteByID(id)
		} else {
			op = s.store.Delete(abook.NewRecord(c.Name, c.Phone, c.Email, c.Address, c.Birthday))
		}

		if err := op.Wait(context.Background()); err != nil {
			return errors.Wrap(err, "could not delete contact")
		}

		if !op.Applied() {
			return errNotFound
		}

		fmt.Fprintf(g.out(), "deleted %s\n", op.ID())
		return nil
	})
}

// UpdateCmd changes the given fields of a contact and keeps the rest.
type UpdateCmd struct {
	ID  string            `arg:"" help:"Id of the contact."`
	Set map[string]string `help:"Field to change as field=value, fields are name, phone, email, address and birthday." short:"s" required:""`
}

func (c *UpdateCmd) apply(r abook.Record) (abook.Record, error) {
	for field, value := range c.Set {
		switch strings.ToLower(field) {
		case "name":
			r.Name = value
		case "phone":
			r.Phone = value
		case "email":
			r.Email = value
		case "address":
			r.Address = value
		case "birthday":
			r.Birthday = value
		default:
			return r, errors.Errorf("unknown contact field %q", field)
		}
	}

	return r, nil
}

func (c *UpdateCmd) Run(g *Globals) error {
	id, err := abook.ParseID(c.ID)
	if err != nil {
		return err
	}

	return withSession(g, func(s *session) error {
		current, ok := s.store.Get(id)
		if !ok {
			return errNotFound
		}

		updated, err := c.apply(current)
		if err != nil {
			return err
		}

		if err := s.store.UpdateByID(id, updated).Wait(context.Background()); err != nil {
			return errors.Wrap(err, "could not update contact")
		}

		fmt.Fprintf(g.out(), "updated %s\n", id)
		return nil
	})
}

// ImportCmd adds the contacts of a JSON array document.
type ImportCmd struct {
	Path string `arg:"" help:"JSON file with an array of contacts." type:"existingfile"`
}

func (c *ImportCmd) Run(g *Globals) error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return errors.Wrapf(err, "could not read %s", c.Path)
	}

	records, skipped, err := transfer.ImportJSON(data)
	if err != nil {
		return err
	}

	return withSession(g, func(s *session) error {
		ops := make([]*abook.Op, 0, len(records))
		for _, r := range records {
			ops = append(ops, s.store.Add(r))
		}

		for i, op := range ops {
			if err := op.Wait(context.Background()); err != nil {
				return errors.Wrapf(err, "could not import contact #%d", i+1)
			}
		}

		if skipped > 0 {
			s.logger.Warn().Int("skipped", skipped).Str("file", c.Path).Msg("entries that are not objects were skipped")
		}

		fmt.Fprintf(g.out(), "imported %d, skipped %d\n", len(records), skipped)
		return nil
	})
}

// ExportCmd writes all contacts to a file or stdout.
type ExportCmd struct {
	Output string `help:"Output file, - for stdout." short:"o" default:"-"`
	As     string `help:"Document format." enum:"json,yaml" default:"json"`
}

func (c *ExportCmd) Run(g *Globals) error {
	return withSession(g, func(s *session) error {
		if c.Output == "-" {
			return c.write(g.out(), s.store.Entries())
		}

		f, err := os.Create(c.Output)
		if err != nil {
			return errors.Wrapf(err, "could not create %s", c.Output)
		}

		if err := c.write(f, s.store.Entries()); err != nil {
			_ = f.Close()
			return err
		}

		if err := f.Close(); err != nil {
			return errors.Wrapf(err, "could not close %s", c.Output)
		}

		return nil
	})
}

func (c *ExportCmd) write(w io.Writer, entries []abook.Entry) error {
	if c.As == "yaml" {
		return transfer.ExportYAML(w, entries)
	}

	return transfer.ExportJSON(w, entries)
}

// MigrateCmd copies every contact of one backing file into another one,
// usually from the legacy comma format to the framed format.
type MigrateCmd struct {
	From       string `arg:"" help:"Source backing file." type:"existingfile"`
	To         string `arg:"" help:"Destination backing file." type:"path"`
	FromFormat string `help:"Source format." enum:"framed,legacy" default:"legacy"`
	ToFormat   string `help:"Destination format." enum:"framed,legacy" default:"framed"`
}

func (c *MigrateCmd) Run(g *Globals) error {
	cfg, err := g.settings()
	if err != nil {
		return err
	}

	lg, closeLog := logger.New(&cfg.Log, g.errOut())
	defer closeLog()

	src, closeSrc, err := openStore(c.From, c.FromFormat, cfg, lg)
	if err != nil {
		return err
	}
	defer closeSrc()

	if rep := src.LoadReport(); rep.Err != nil {
		return errors.Wrapf(rep.Err, "could not read %s", c.From)
	}

	dst, closeDst, err := openStore(c.To, c.ToFormat, cfg, lg)
	if err != nil {
		return err
	}

	if dst.Len() > 0 {
		_ = closeDst()
		return errors.Errorf("%s already holds %d contacts", c.To, dst.Len())
	}

	for _, r := range src.List() {
		dst.Add(r)
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	flushErr := dst.Flush(ctx)
	if err := closeDst(); err != nil && flushErr == nil {
		flushErr = err
	}

	if flushErr != nil {
		return errors.Wrapf(flushErr, "could not write %s", c.To)
	}

	fmt.Fprintf(g.out(), "migrated %d contacts, skipped %d\n", dst.Len(), src.LoadReport().Skipped)
	return nil
}

// TuiCmd opens the interactive address book.
type TuiCmd struct{}

func (c *TuiCmd) Run(g *Globals) error {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return errors.New("tui: requires a terminal (TTY)")
	}

	return withSession(g, func(s *session) error {
		if rep := s.store.LoadReport(); rep.Err != nil {
			fmt.Fprintf(g.errOut(), "warning: %s\n", rep.Err)
		}

		_, err := tea.NewProgram(tui.NewModel(s.store), tea.WithAltScreen()).Run()
		return err
	})
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("abook"),
		kong.Description("A small address book backed by a single file."),
		kong.Vars{"version": version + " " + commit + " " + date},
	)

	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
