package app

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rovify/rovify/internal/model"
	"github.com/rovify/rovify/internal/route"
)

// gateStatuses は分類結果の表示順。
var gateStatuses = []model.Status{
	model.StatusInitializing,
	model.StatusUnauthenticated,
	model.StatusAuthenticated,
}

// writeClassification は各パスの分類と、認証状態ごとのゲート判定を表形式で書き込む。
func writeClassification(w io.Writer, rules *route.Rules, paths []string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, "PATH\tCLASS")
	for _, s := range gateStatuses {
		fmt.Fprintf(tw, "\t%s", s)
	}
	fmt.Fprintln(tw)

	for _, p := range paths {
		fmt.Fprintf(tw, "%s\t%s", p, rules.Classify(p))
		for _, s := range gateStatuses {
			fmt.Fprintf(tw, "\t%s", formatDecision(rules.Decide(s, p)))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func formatDecision(d route.Decision) string {
	if d.Action == route.ActionRedirect {
		return fmt.Sprintf("%s %s", d.Action, d.Target)
	}
	return string(d.Action)
}
