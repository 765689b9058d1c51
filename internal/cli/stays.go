package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/sakif/checkinn/internal/apperror"
	"github.com/sakif/checkinn/internal/model"
	"github.com/sakif/checkinn/internal/service"
)

// stayFlags are the fields shared by add and edit.
type stayFlags struct {
	title, city, note, in, out *string
}

func bindStayFlags(fs *flag.FlagSet) stayFlags {
	return stayFlags{
		title: fs.String("title", "", "title (defaults to the city)"),
		city:  fs.String("city", "", "city"),
		note:  fs.String("note", "", "free-form note"),
		in:    fs.String("in", "", "check-in date, YYYY-MM-DD"),
		out:   fs.String("out", "", "check-out date, YYYY-MM-DD (empty for none)"),
	}
}

// apply copies the flags that were set on the command line onto stay.
// An explicitly empty -city, -note or -out clears the field.
func (f stayFlags) apply(fs *flag.FlagSet, stay *model.Stay) error {
	var err error
	fs.Visit(func(fl *flag.Flag) {
		if err != nil {
			return
		}
		switch fl.Name {
		case "title":
			stay.Title = *f.title
		case "city":
			stay.City = model.NormalizeText(*f.city)
		case "note":
			stay.Note = model.NormalizeText(*f.note)
		case "in":
			day, perr := service.ParseDay(*f.in)
			if perr != nil {
				err = apperror.ValidationFailed("checkIn", perr.Error())
				return
			}
			stay.CheckIn = day
		case "out":
			if strings.TrimSpace(*f.out) == "" {
				stay.CheckOut = nil
				return
			}
			day, perr := service.ParseDay(*f.out)
			if perr != nil {
				err = apperror.ValidationFailed("checkOut", perr.Error())
				return
			}
			stay.CheckOut = &day
		}
	})
	return err
}

func (a *App) listStays(ctx context.Context, args []string) error {
	fs := a.newFlags("stays")
	query := fs.String("q", "", "only stays whose title, city or note contains this")
	if err := fs.Parse(args); err != nil {
		return err
	}
	userID, err := a.currentUserID()
	if err != nil {
		return err
	}

	var stays []model.Stay
	if strings.TrimSpace(*query) != "" {
		stays, err = a.stays.SearchStays(ctx, userID, *query)
	} else {
		stays, err = a.stays.ListStays(ctx, userID)
	}
	if err != nil {
		return err
	}

	if len(stays) == 0 {
		fmt.Fprintln(a.out, a.text("滞在記録はありません。", "No stays yet."))
		return nil
	}
	a.printStays(stays)
	return nil
}

func (a *App) printStays(stays []model.Stay) {
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
		"ID", a.text("日付", "DATES"), a.text("日数", "DAYS"), a.text("タイトル", "TITLE"), a.text("都市", "CITY"))
	for _, s := range stays {
		dates := s.CheckIn.Format(service.DayLayout)
		if s.CheckOut != nil {
			dates += ".." + s.CheckOut.Format(service.DayLayout)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.ID, dates, s.DayCount(), s.Title, model.Deref(s.City))
	}
	tw.Flush()
}

func (a *App) addStay(ctx context.Context, args []string) error {
	fs := a.newFlags("add")
	f := bindStayFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	userID, err := a.currentUserID()
	if err != nil {
		return err
	}

	var stay model.Stay
	if err := f.apply(fs, &stay); err != nil {
		return err
	}
	saved, err := a.stays.AddStay(ctx, userID, stay)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s %s (%s)\n", a.text("追加しました:", "Added"), saved.Title, saved.ID)
	return nil
}

// editStay loads the stay, overlays the given flags and saves it back.
// The id comes first: edit ID -title ...
func (a *App) editStay(ctx context.Context, args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return apperror.ValidationFailed("id", a.text("IDを指定してください。", "a stay ID is required"))
	}
	id := args[0]

	fs := a.newFlags("edit")
	f := bindStayFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	userID, err := a.currentUserID()
	if err != nil {
		return err
	}

	stays, err := a.stays.ListStays(ctx, userID)
	if err != nil {
		return err
	}
	var stay *model.Stay
	for i := range stays {
		if stays[i].ID == id {
			stay = &stays[i]
			break
		}
	}
	if stay == nil {
		return apperror.NotFound("stay", id)
	}

	if err := f.apply(fs, stay); err != nil {
		return err
	}
	saved, err := a.stays.UpsertStay(ctx, userID, *stay)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s %s (%s)\n", a.text("更新しました:", "Updated"), saved.Title, saved.ID)
	return nil
}

func (a *App) removeStay(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return apperror.ValidationFailed("id", a.text("IDを1つ指定してください。", "exactly one stay ID is required"))
	}
	userID, err := a.currentUserID()
	if err != nil {
		return err
	}
	if err := a.stays.DeleteStay(ctx, userID, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", a.text("削除しました:", "Removed"), args[0])
	return nil
}

func (a *App) stats(ctx context.Context, _ []string) error {
	userID, err := a.currentUserID()
	if err != nil {
		return err
	}
	s, err := a.stays.Stats(ctx, userID, a.now())
	if err != nil {
		return err
	}

	next := "-"
	if s.NextCheckIn != nil {
		next = s.NextCheckIn.Format(service.DayLayout)
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%d\n", a.text("滞在数", "Stays"), s.Stays)
	fmt.Fprintf(tw, "%s\t%d\n", a.text("合計日数", "Total days"), s.TotalDays)
	fmt.Fprintf(tw, "%s\t%.2f\n", a.text("年数", "Years"), s.Years)
	fmt.Fprintf(tw, "%s\t%d\n", a.text("都市", "Cities"), s.Cities)
	fmt.Fprintf(tw, "%s\t%d\n", a.text("ホテル", "Hotels"), s.Hotels)
	fmt.Fprintf(tw, "%s\t%s\n", a.text("次のチェックイン", "Next check-in"), next)
	return tw.Flush()
}
