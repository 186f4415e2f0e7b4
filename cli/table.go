// Table rendering for CLI output.
//
// Information Hiding:
// - go-pretty writer setup and column alignment
// - Row layout for blueprints, parsed files, assets, checkpoints and options

package cli

import (
	"bytes"
	"image"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/richinex/handoff/asset"
	"github.com/richinex/handoff/chunker"
	"github.com/richinex/handoff/config"
	"github.com/richinex/handoff/model"
)

// descriptionWidth bounds free-text columns so long module descriptions wrap.
const descriptionWidth = 60

type column struct {
	title string
	align text.Align
	width int // 0 means unbounded
}

func newTable(columns ...column) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, c := range columns {
		header[i] = c.title
		configs[i] = table.ColumnConfig{
			Number:      i + 1,
			Align:       c.align,
			AlignHeader: text.AlignLeft,
			AlignFooter: c.align,
		}
		if c.width > 0 {
			configs[i].WidthMax = c.width
			configs[i].WidthMaxEnforcer = text.WrapSoft
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)
	return tw
}

func modulesTable(modules []model.Module) string {
	tw := newTable(
		column{title: "File", align: text.AlignLeft},
		column{title: "Type", align: text.AlignLeft},
		column{title: "Description", align: text.AlignLeft, width: descriptionWidth},
	)
	for _, m := range modules {
		tw.AppendRow(table.Row{m.Filename, m.Type, m.Description})
	}
	return tw.Render()
}

func lineCount(content string) int {
	return strings.Count(content, "\n") + 1
}

func filesTable(files []model.ParsedFile) string {
	tw := newTable(
		column{title: "File", align: text.AlignLeft},
		column{title: "Language", align: text.AlignLeft},
		column{title: "Lines", align: text.AlignRight},
	)
	total := 0
	for _, f := range files {
		n := lineCount(f.Content)
		total += n
		tw.AppendRow(table.Row{f.Filename, f.Language, n})
	}
	if len(files) > 1 {
		tw.AppendFooter(table.Row{"", "total", total})
	}
	return tw.Render()
}

// chunkCount reports how many windows an asset would be sliced into,
// reading only the image header.
func chunkCount(a asset.Asset, maxHeight int) string {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(a.Raw))
	if err != nil || cfg.Height <= 0 {
		return "invalid"
	}
	return humanize.Comma(int64(len(chunker.Windows(cfg.Height, maxHeight))))
}

func assetsTable(assets []asset.Asset, maxHeight int) string {
	tw := newTable(
		column{title: "Asset", align: text.AlignLeft},
		column{title: "Raw", align: text.AlignRight},
		column{title: "Encoded", align: text.AlignRight},
		column{title: "Chunks", align: text.AlignRight},
	)
	for _, a := range assets {
		tw.AppendRow(table.Row{
			a.Name,
			humanize.Bytes(uint64(a.RawSize)),
			humanize.Bytes(uint64(a.EncodedSize)),
			chunkCount(a, maxHeight),
		})
	}
	return tw.Render()
}

func checkpointsTable(list []model.Checkpoint) string {
	tw := newTable(
		column{title: "ID", align: text.AlignLeft},
		column{title: "Created", align: text.AlignLeft},
		column{title: "Summary", align: text.AlignLeft, width: descriptionWidth},
		column{title: "Files", align: text.AlignRight},
		column{title: "Assets", align: text.AlignRight},
		column{title: "Digest", align: text.AlignLeft},
	)
	for _, cp := range list {
		tw.AppendRow(table.Row{
			cp.ID,
			humanize.Time(cp.Timestamp),
			cp.Summary,
			len(cp.Files),
			cp.AssetCount,
			cp.Digest,
		})
	}
	return tw.Render()
}

func optionsTable(opts config.Options) string {
	tw := newTable(
		column{title: "Option", align: text.AlignLeft},
		column{title: "State", align: text.AlignLeft},
	)
	for _, o := range config.AllOptions {
		state := "off"
		if opts.Enabled(o) {
			state = "on"
		}
		tw.AppendRow(table.Row{o.String(), state})
	}
	return tw.Render()
}
