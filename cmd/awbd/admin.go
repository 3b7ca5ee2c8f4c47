package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/banshee-data/awb/internal/calib"
	"github.com/banshee-data/awb/internal/db"
	"github.com/banshee-data/awb/internal/ispserial"
	"github.com/banshee-data/awb/internal/security"
)

func dbFlag(fs *flag.FlagSet) *string {
	return fs.String("db", "awb.db", "SQLite database path")
}

func handleMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbPath := dbFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	action := "up"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}

	d, err := db.OpenDB(*dbPath)
	if err != nil {
		return err
	}
	defer d.Close()
	migFS, err := db.MigrationsFS()
	if err != nil {
		return err
	}

	switch action {
	case "up":
		if err := d.MigrateUp(migFS); err != nil {
			return err
		}
	case "down":
		if err := d.MigrateDown(migFS); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate action %q (want up, down or version)", action)
	}
	v, dirty, err := d.MigrateVersion(migFS)
	if err != nil {
		return err
	}
	fmt.Printf("schema version %d (dirty=%v)\n", v, dirty)
	return nil
}

func handleCalib(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: awbd calib <import|export|list|activate|delete> [options]")
	}
	action, args := args[0], args[1:]

	fs := flag.NewFlagSet("calib "+action, flag.ContinueOnError)
	dbPath := dbFlag(fs)
	activate := fs.Bool("activate", false, "Activate the imported set")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := db.NewDB(*dbPath)
	if err != nil {
		return err
	}
	defer d.Close()
	store := db.NewCalibrationStore(d)

	switch action {
	case "import":
		if fs.NArg() != 1 {
			return errors.New("usage: awbd calib import [-activate] <set.json>")
		}
		set, err := calib.LoadJSONFile(fs.Arg(0))
		if err != nil {
			return err
		}
		id, err := store.Save(set)
		if err != nil {
			return err
		}
		if *activate {
			if err := store.Activate(id); err != nil {
				return err
			}
		}
		fmt.Printf("imported %q as %s\n", set.Name, id)
	case "export":
		if fs.NArg() < 1 || fs.NArg() > 2 {
			return errors.New("usage: awbd calib export <id> [set.json]")
		}
		set, err := store.Get(fs.Arg(0))
		if err != nil {
			return err
		}
		path := fs.Arg(1)
		if path == "" {
			path = security.SanitizeFilename(set.Name) + ".json"
		}
		if err := security.ValidateOutputPath(path); err != nil {
			return err
		}
		if err := calib.WriteJSONFile(path, set); err != nil {
			return err
		}
		fmt.Printf("exported %s to %s\n", set.ID, path)
	case "list":
		sets, err := store.List()
		if err != nil {
			return err
		}
		return writeSetList(os.Stdout, sets)
	case "activate":
		if fs.NArg() != 1 {
			return errors.New("usage: awbd calib activate <id>")
		}
		return store.Activate(fs.Arg(0))
	case "delete":
		if fs.NArg() != 1 {
			return errors.New("usage: awbd calib delete <id>")
		}
		return store.Delete(fs.Arg(0))
	default:
		return fmt.Errorf("unknown calib action %q", action)
	}
	return nil
}

func writeSetList(w io.Writer, sets []db.CalibrationSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tRESOLUTIONS\tILLUMINANTS\tACTIVE\tCREATED")
	for _, s := range sets {
		res, _ := json.Marshal(s.Resolutions)
		active := ""
		if s.Active {
			active = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", s.ID, s.Name, res, s.Illuminants, active, s.CreatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func handlePorts() error {
	ports, err := ispserial.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}
