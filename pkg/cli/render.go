package cli

import (
    "encoding/json"
    "fmt"
    "io"
    "strconv"

    "github.com/jedib0t/go-pretty/v6/table"

    "github.com/KavataK/qubic-node-setup/pkg/fleet"
    "github.com/KavataK/qubic-node-setup/pkg/monitor"
)

func newTable(w io.Writer) table.Writer {
    style := table.StyleDefault
    style.Options = table.Options{
        DrawBorder:      false,
        SeparateColumns: false,
        SeparateFooter:  false,
        SeparateHeader:  true,
        SeparateRows:    false,
    }
    t := table.NewWriter()
    t.SetOutputMirror(w)
    t.SetStyle(style)
    return t
}

func writeRound(w io.Writer, format string, r *fleet.FleetRound) error {
    switch format {
    case "json":
        enc := json.NewEncoder(w)
        enc.SetIndent("", "  ")
        return enc.Encode(struct {
            ID    string               `json:"id"`
            Nodes []fleet.NodeSnapshot `json:"nodes"`
        }{r.ID, r.Snapshots()})
    case "table", "":
        t := newTable(w)
        t.AppendHeader(table.Row{"Node", "Status", "Epoch", "Tick", "Initial Tick", "Reason"})
        for _, s := range r.Snapshots() {
            row := table.Row{s.Address.String(), string(s.Status), "-", "-", "-", s.Reason}
            if s.OK() {
                row[2], row[3], row[4] = itoa(s.Progress.Epoch), itoa(s.Progress.Tick), itoa(s.Progress.InitialTick)
            }
            t.AppendRow(row)
        }
        t.AppendFooter(table.Row{fmt.Sprintf("%d/%d answered", len(r.Answered()), r.Len())})
        t.Render()
        return nil
    default:
        return fmt.Errorf("unknown format %q", format)
    }
}

func writeStatus(w io.Writer, format string, data []byte) error {
    switch format {
    case "json", "":
        return writeRaw(w, data)
    case "table":
        var st monitor.Status
        if err := json.Unmarshal(data, &st); err != nil { return fmt.Errorf("decode status: %w", err) }
        fmt.Fprintf(w, "phase %s, epoch %d, tick %d, designated %s, rounds %d, healthy %t\n",
            st.Phase, st.KnownEpoch, st.KnownTick, st.Designated, st.Rounds, st.Healthy)
        if st.Target != nil {
            fmt.Fprintf(w, "target epoch %d (initial tick %d)\n", st.Target.Epoch, st.Target.InitialTick)
        }
        for _, warn := range st.Warnings {
            fmt.Fprintf(w, "warning: %s\n", warn)
        }
        t := newTable(w)
        t.AppendHeader(table.Row{"Node", "Status", "Epoch", "Tick", "Initial Tick", "Reason"})
        for _, n := range st.Nodes {
            t.AppendRow(table.Row{n.Address, n.Status, n.Epoch, n.Tick, n.InitialTick, n.Reason})
        }
        t.Render()
        return nil
    default:
        return fmt.Errorf("unknown format %q", format)
    }
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
