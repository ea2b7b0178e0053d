package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// RenderText writes a human-readable rendering of a report. Types without
// a table layout fall back to YAML.
func RenderText(w io.Writer, v any) error {
	switch r := v.(type) {
	case *Disk:
		return renderDisk(w, r)
	case *DiskSet:
		for _, d := range r.Extents {
			if d == nil {
				continue
			}
			if err := renderDisk(w, d); err != nil {
				return err
			}
		}
		if r.Total != nil {
			fmt.Fprintf(w, "%s, %d extents\n", r.Namespace, len(r.Extents))
			t := newTable(w, "scope", "entries", "recSize", "bsonSize", "onDisk", "freeRecs", "charact")
			t.Append(diskRow("all extents", *r.Total))
			t.Render()
		}
		return nil
	case *Mem:
		return renderMem(w, r)
	case *MemSet:
		for _, m := range r.Extents {
			if m == nil {
				continue
			}
			if err := renderMem(w, m); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, "%s: %d of %d pages in memory (%s)\n",
			r.Namespace, r.Resident, r.Pages, percent(r.InMem))
		return err
	case *Index:
		return renderIndex(w, r)
	case *Table:
		return renderTable(w, r)
	case *ErrorReport:
		_, err := fmt.Fprintf(w, "error (%s): %s\n", r.Kind, r.Message)
		return err
	default:
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoFormatHeaders(false)
	t.SetAlignment(tablewriter.ALIGN_RIGHT)
	t.SetBorder(false)
	return t
}

func fnum(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func fptr(v *float64) string {
	if v == nil {
		return "-"
	}
	return fnum(*v)
}

func percent(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v*100, 'f', 1, 64) + "%"
}

func charactMean(c Chunk) string {
	if c.CharactCount == nil || c.CharactSum == nil || *c.CharactCount == 0 {
		return "-"
	}
	return fnum(*c.CharactSum / *c.CharactCount)
}

func freeRecs(c Chunk) float64 {
	var n float64
	for _, v := range c.FreeRecsPerBucket {
		n += v
	}
	return n
}

func renderDisk(w io.Writer, r *Disk) error {
	fmt.Fprintf(w, "%s extent %d at %s, range [%d,%d), chunk size %d\n",
		r.Namespace, r.Extent, r.ExtentLoc, r.Range[0], r.Range[1], r.ChunkSize)
	if r.Partial {
		fmt.Fprintln(w, "(partial)")
	}

	t := newTable(w, "chunk", "entries", "recSize", "bsonSize", "onDisk", "freeRecs", "charact")
	for i, c := range r.Chunks {
		t.Append(diskRow(strconv.Itoa(i), c))
	}
	t.SetFooter(diskRow("total", r.Chunk))
	t.Render()

	if len(r.Records) > 0 {
		rt := newTable(w, "ofs", "recSize", "bsonSize", "id", "charact")
		for _, rec := range r.Records {
			rt.Append([]string{
				strconv.FormatInt(rec.Ofs, 10),
				strconv.FormatInt(rec.RecSize, 10),
				strconv.FormatInt(rec.BSONSize, 10),
				rec.ID,
				fptr(rec.Charact),
			})
		}
		rt.Render()
	}
	if len(r.DeletedRecords) > 0 {
		ft := newTable(w, "ofs", "recSize", "bucket")
		for _, fr := range r.DeletedRecords {
			ft.Append([]string{
				strconv.FormatInt(fr.Ofs, 10),
				strconv.FormatInt(fr.RecSize, 10),
				strconv.Itoa(fr.Bucket),
			})
		}
		ft.Render()
	}
	_, err := fmt.Fprintln(w)
	return err
}

func diskRow(label string, c Chunk) []string {
	return []string{
		label,
		fnum(c.NumEntries),
		strconv.FormatInt(c.RecSize, 10),
		fnum(c.BSONSize),
		strconv.FormatInt(c.OnDiskSize, 10),
		fnum(freeRecs(c)),
		charactMean(c),
	}
}

func renderMem(w io.Writer, r *Mem) error {
	fmt.Fprintf(w, "%s extent %d at %s, range [%d,%d), page size %d, in memory %s\n",
		r.Namespace, r.Extent, r.ExtentLoc, r.Range[0], r.Range[1], r.PageSize, percent(r.InMem))
	if r.Partial {
		fmt.Fprintln(w, "(partial)")
	}

	t := newTable(w, "chunk", "start", "resident")
	for i, c := range r.Chunks {
		t.Append([]string{
			strconv.Itoa(i),
			strconv.FormatInt(r.Range[0]+int64(i)*r.ChunkSize, 10),
			percent(c),
		})
	}
	t.Render()
	_, err := fmt.Fprintln(w)
	return err
}

func renderIndex(w io.Writer, r *Index) error {
	fmt.Fprintf(w, "index %s on %s (%s), version %d, root %s, depth %d\n",
		r.Name, r.Namespace, r.KeyPattern, r.Version, r.Root, r.Depth)
	if r.Partial {
		fmt.Fprintln(w, "(partial)")
	}

	t := newTable(w, "scope", "buckets", "keys", "usedKeys", "fill", "bsonRatio", "keyNodeRatio")
	t.Append(areaRow("overall", r.Overall))
	for depth, a := range r.PerLevel {
		t.Append(areaRow("level "+strconv.Itoa(depth), a))
	}
	t.Render()

	for _, b := range r.Expanded {
		fmt.Fprintf(w, "\nexpanded level %d\n", b.Depth)
		bt := newTable(w, "child", "loc", "keys", "usedKeys", "firstKey", "lastKey", "subtreeBuckets")
		for _, n := range b.Nodes {
			if n == nil {
				continue
			}
			buckets := "-"
			if n.ChildNum < len(b.Subtrees) && b.Subtrees[n.ChildNum] != nil {
				buckets = strconv.Itoa(b.Subtrees[n.ChildNum].NumBuckets)
			}
			bt.Append([]string{
				strconv.Itoa(n.ChildNum),
				n.Loc,
				strconv.Itoa(n.KeyCount),
				strconv.Itoa(n.UsedKeyCount),
				n.FirstKey,
				n.LastKey,
				buckets,
			})
		}
		bt.Render()
	}

	if r.Storage != nil {
		fmt.Fprintf(w, "\nstorage: %d records, usage %s\n", r.Storage.NumRecords, percent(r.Storage.OverallStorageUsage))
		st := newTable(w, "extent", "length", "entries", "recLen", "usage")
		for _, e := range r.Storage.Extents {
			st.Append([]string{
				e.Loc,
				strconv.FormatInt(e.Length, 10),
				strconv.Itoa(e.Entries),
				strconv.FormatInt(e.RecLen, 10),
				percent(e.Usage),
			})
		}
		st.Render()
	}
	_, err := fmt.Fprintln(w)
	return err
}

func areaRow(label string, a Area) []string {
	return []string{
		label,
		strconv.Itoa(a.NumBuckets),
		fptr(sum(a.KeyCount)),
		fptr(sum(a.UsedKeyCount)),
		percent(a.FillRatio.Mean),
		fptr(a.BSONRatio.Mean),
		fptr(a.KeyNodeRatio.Mean),
	}
}

// sum recovers a total from a summary's count and mean.
func sum(s Summary) *float64 {
	if s.Mean == nil {
		return nil
	}
	v := *s.Mean * float64(s.Count)
	return &v
}

func renderTable(w io.Writer, r *Table) error {
	t := newTable(w, r.Columns...)
	for _, row := range r.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			switch x := v.(type) {
			case nil:
				cells[i] = "NULL"
			case float64:
				cells[i] = strconv.FormatFloat(x, 'g', 6, 64)
			default:
				cells[i] = fmt.Sprint(x)
			}
		}
		t.Append(cells)
	}
	t.Render()
	_, err := fmt.Fprintf(w, "(%d rows)\n", len(r.Rows))
	return err
}
