package docdbcmd

import (
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/docdb/database"
	mbp "go.gazette.dev/docdb/mainboilerplate"
)

type cmdCompact struct{}

type cmdInfo struct {
	Metrics bool `long:"metrics" description:"Also print metrics of this invocation"`
}

// registry of docdb metrics, which are gathered by "info --metrics".
var registry = prometheus.NewRegistry()

func init() {
	mbp.RegisterMetrics(registry)

	CommandRegistry.AddCommand("", "compact", "Compact the database", `
Compact the database. Bodies of non-current revisions become unavailable,
and blobs no longer referenced by any revision are deleted.
`, &cmdCompact{})

	CommandRegistry.AddCommand("", "info", "Print database information", `
Print the identity, last sequence, and document count of the database.
`, &cmdInfo{})
}

func (cmd *cmdCompact) Execute([]string) error {
	startup()

	return withDatabase(func(db *database.Database) error {
		var n, err = db.Compact()
		if err != nil {
			return err
		}
		log.WithField("blobs", n).Info("compacted database")
		_, err = Output.Write([]byte("removed " + humanize.Comma(int64(n)) + " blobs\n"))
		return err
	})
}

func (cmd *cmdInfo) Execute([]string) error {
	startup()

	return withDatabase(func(db *database.Database) error {
		var private, err = db.PrivateUUID()
		if err != nil {
			return err
		}
		public, err := db.PublicUUID()
		if err != nil {
			return err
		}
		count, err := db.DocumentCount()
		if err != nil {
			return err
		}
		views, err := db.AllViews()
		if err != nil {
			return err
		}

		var table = newTable("Property", "Value")
		table.Append([]string{"Private UUID", private})
		table.Append([]string{"Public UUID", public})
		table.Append([]string{"Last Sequence", strconv.FormatInt(db.LastSequence(), 10)})
		table.Append([]string{"Documents", humanize.Comma(count)})
		table.Append([]string{"Views", strconv.Itoa(len(views))})
		table.Render()

		if cmd.Metrics {
			return outputMetrics()
		}
		return nil
	})
}

func outputMetrics() error {
	var families, err = registry.Gather()
	if err != nil {
		return err
	}
	var table = newTable("Metric", "Labels", "Value")

	for _, family := range families {
		for _, m := range family.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)

			table.Append([]string{family.GetName(), strings.Join(labels, ","), metricValue(family.GetType(), m)})
		}
	}
	table.Render()
	return nil
}

func metricValue(typ dto.MetricType, m *dto.Metric) string {
	switch typ {
	case dto.MetricType_COUNTER:
		return strconv.FormatFloat(m.GetCounter().GetValue(), 'f', -1, 64)
	case dto.MetricType_HISTOGRAM:
		var h = m.GetHistogram()
		return humanize.Comma(int64(h.GetSampleCount())) + " samples, " +
			strconv.FormatFloat(h.GetSampleSum(), 'g', 4, 64) + "s total"
	default:
		return m.String()
	}
}
