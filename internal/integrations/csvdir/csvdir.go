// Package csvdir reads a planning snapshot from a directory of CSV files:
//
//	zones.csv        zip_code, capacity_gap, under5_gap
//	facilities.csv   zip_code, capacity
//	coordinates.csv  zip_code, latitude, longitude
//
// facilities.csv and coordinates.csv are optional. Header names are matched
// case-insensitively and a few common aliases are accepted.
package csvdir

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"siteplan/internal/model"
)

const (
	ZonesFile       = "zones.csv"
	FacilitiesFile  = "facilities.csv"
	CoordinatesFile = "coordinates.csv"
)

var aliases = map[string][]string{
	"id":           {"zip_code", "zip", "zone", "zone_id", "id", "facility_id"},
	"capacity_gap": {"capacity_gap", "difference_child_care_capacity", "gap"},
	"under5_gap":   {"under5_gap", "difference_0_5_capacity", "gap_0_5"},
	"capacity":     {"capacity", "original_capacity", "total_capacity"},
	"lat":          {"latitude", "lat"},
	"lng":          {"longitude", "lng", "lon"},
}

// Source loads zones, facilities and coordinates from Dir.
type Source struct {
	Dir string
}

func New(dir string) *Source { return &Source{Dir: dir} }

func (s *Source) Name() string { return "csv-dir" }

func (s *Source) Load(ctx context.Context) (model.PlanRequest, error) {
	req := model.PlanRequest{Name: filepath.Base(s.Dir)}

	zones, err := s.readTable(ctx, ZonesFile, true, []string{"id", "capacity_gap"}, []string{"under5_gap"})
	if err != nil {
		return req, err
	}
	index := make(map[string]int, len(zones))
	for _, row := range zones {
		gap, err := parseNumber(row, "capacity_gap")
		if err != nil {
			return req, eris.Wrapf(err, "csvdir: %s", ZonesFile)
		}
		under5, err := parseNumber(row, "under5_gap")
		if err != nil {
			return req, eris.Wrapf(err, "csvdir: %s", ZonesFile)
		}
		index[row.get("id")] = len(req.Zones)
		req.Zones = append(req.Zones, model.ZoneIn{ID: row.get("id"), CapacityGap: gap, Under5Gap: under5})
	}

	facilities, err := s.readTable(ctx, FacilitiesFile, false, []string{"id", "capacity"}, nil)
	if err != nil {
		return req, err
	}
	for _, row := range facilities {
		capacity, err := parseNumber(row, "capacity")
		if err != nil {
			return req, eris.Wrapf(err, "csvdir: %s", FacilitiesFile)
		}
		req.Facilities = append(req.Facilities, model.FacilityIn{ZoneID: row.get("id"), OriginalCapacity: capacity})
	}

	coords, err := s.readTable(ctx, CoordinatesFile, false, []string{"id", "lat", "lng"}, nil)
	if err != nil {
		return req, err
	}
	for _, row := range coords {
		i, ok := index[row.get("id")]
		if !ok {
			continue
		}
		lat, err := parseNumber(row, "lat")
		if err != nil {
			return req, eris.Wrapf(err, "csvdir: %s", CoordinatesFile)
		}
		lng, err := parseNumber(row, "lng")
		if err != nil {
			return req, eris.Wrapf(err, "csvdir: %s", CoordinatesFile)
		}
		req.Zones[i].Location = &model.GeoPoint{Lat: lat, Lng: lng}
	}
	return req, nil
}

type record struct {
	line   int
	cols   map[string]int
	fields []string
}

func (r record) get(key string) string {
	i, ok := r.cols[key]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return r.fields[i]
}

func parseNumber(r record, key string) (float64, error) {
	v := r.get(key)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "line %d: column %s", r.line, key)
	}
	return f, nil
}

func (s *Source) readTable(ctx context.Context, name string, required bool, want, optional []string) ([]record, error) {
	f, err := os.Open(filepath.Join(s.Dir, name))
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "csvdir: open %s", name)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "csvdir: %s header", name)
	}
	cols, err := resolveColumns(header, want, optional)
	if err != nil {
		return nil, eris.Wrapf(err, "csvdir: %s", name)
	}

	var out []record
	for line := 2; ; line++ {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "csvdir: context cancelled")
		}
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "csvdir: %s read row", name)
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		r := record{line: line, cols: cols, fields: fields}
		if r.get("id") == "" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func resolveColumns(header, want, optional []string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	cols := map[string]int{}
	lookup := func(key string) bool {
		for _, alias := range aliases[key] {
			if i, ok := pos[alias]; ok {
				cols[key] = i
				return true
			}
		}
		return false
	}
	for _, key := range want {
		if !lookup(key) {
			return nil, eris.Errorf("missing column %s (accepted: %s)", key, strings.Join(aliases[key], ", "))
		}
	}
	for _, key := range optional {
		lookup(key)
	}
	return cols, nil
}
