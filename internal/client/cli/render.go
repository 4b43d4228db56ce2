package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/expiryx/internal/client/models"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

func shortAddress(addr string) string {
	return permission.ShortAddress(addr)
}

// humanizeDuration renders d with its two largest units: "3d4h", "45m".
func humanizeDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd%dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh%dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	}
	return "<1m"
}

func flags(v models.PermissionView) string {
	var f []string
	if v.Pending != "" {
		f = append(f, "pending "+string(v.Pending))
	}
	if v.ExpiringSoon {
		f = append(f, "expiring soon")
	}
	if v.Resource != nil {
		f = append(f, "file "+v.Resource.Name)
	}
	return strings.Join(f, ", ")
}

func counterparty(v models.PermissionView) string {
	if v.Role == "owner" {
		return "to " + shortAddress(v.Spender)
	}
	return "from " + shortAddress(v.Owner)
}

func renderList(w io.Writer, views []models.PermissionView) {
	if len(views) == 0 {
		fmt.Fprintln(w, "No permissions.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROLE\tCOUNTERPARTY\tREMAINING\tSTATUS\tEXPIRES IN\t")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s/%s\t%s\t%s\t%s\n",
			v.ID, v.Role, counterparty(v),
			permission.FormatAmount(v.Remaining), permission.FormatAmount(v.Amount),
			v.Status, humanizeDuration(v.TimeLeft), flags(v))
	}
	_ = tw.Flush()
}

func renderView(w io.Writer, v models.PermissionView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", v.ID)
	fmt.Fprintf(tw, "Status:\t%s\n", v.Status)
	fmt.Fprintf(tw, "Owner:\t%s\n", v.Owner)
	fmt.Fprintf(tw, "Spender:\t%s\n", v.Spender)
	fmt.Fprintf(tw, "Amount:\t%s\n", permission.FormatAmount(v.Amount))
	fmt.Fprintf(tw, "Spent:\t%s\n", permission.FormatAmount(v.Spent))
	fmt.Fprintf(tw, "Remaining:\t%s\n", permission.FormatAmount(v.Remaining))
	fmt.Fprintf(tw, "Expiry:\t%s (%s)\n", v.Expiry.Format(time.RFC3339), humanizeDuration(v.TimeLeft))
	fmt.Fprintf(tw, "Scope:\t%s\n", v.Scope)
	if v.Resource != nil {
		fmt.Fprintf(tw, "File:\t%s (%d bytes, %s)\n", v.Resource.Name, v.Resource.Size, v.Resource.MediaType)
	}
	if v.Pending != "" {
		fmt.Fprintf(tw, "Pending:\t%s\n", v.Pending)
	}
	if !v.LastConfirmed.IsZero() {
		fmt.Fprintf(tw, "Confirmed:\t%s\n", v.LastConfirmed.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func renderSummary(w io.Writer, s models.Summary, lastSynced time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total:\t%d\n", s.Total)
	for _, st := range []permission.Status{permission.StatusActive, permission.StatusExpired, permission.StatusFullySpent, permission.StatusRevoked} {
		fmt.Fprintf(tw, "%s:\t%d\n", st, s.ByStatus[st])
	}
	fmt.Fprintf(tw, "Expiring soon:\t%d\n", s.ExpiringSoon)
	fmt.Fprintf(tw, "Pending:\t%d\n", s.Pending)
	fmt.Fprintf(tw, "Granted allowance:\t%s\n", permission.FormatAmount(s.Allowance))
	fmt.Fprintf(tw, "Spent of it:\t%s\n", permission.FormatAmount(s.Spent))
	if lastSynced.IsZero() {
		fmt.Fprintln(tw, "Last sync:\tnever")
	} else {
		fmt.Fprintf(tw, "Last sync:\t%s\n", lastSynced.Format(time.RFC3339))
	}
	_ = tw.Flush()
}
