package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ReadCSV parses bars from rows of timestamp,open,high,low,close,volume. The
// timestamp is RFC 3339 or unix seconds. A header row is skipped. Rows that do
// not form a valid bar are dropped.
func ReadCSV(r io.Reader) ([]Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var bars []Bar
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(record) < 6 {
			return nil, fmt.Errorf("line %d: expected 6 columns, got %d", line, len(record))
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "timestamp") {
			continue
		}

		bar, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if bar.Valid() {
			bars = append(bars, bar)
		}
	}

	SortBars(bars)
	return bars, nil
}

func parseRecord(record []string) (Bar, error) {
	ts, err := parseTimestamp(strings.TrimSpace(record[0]))
	if err != nil {
		return Bar{}, err
	}

	var vals [5]float64
	for i := range vals {
		if vals[i], err = strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64); err != nil {
			return Bar{}, fmt.Errorf("column %d: %w", i+2, err)
		}
	}

	return Bar{Timestamp: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}

// LoadCSVDir loads every TICKER_TIMEFRAME.csv file in dir into the provider,
// e.g. SPY_1m.csv. Tickers without a 1d file get daily bars resampled from
// their finest intraday series. It returns the loaded tickers.
func LoadCSVDir(p *MemoryBarProvider, dir string, loc *time.Location) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}

	finest := make(map[string][]Bar)
	finestTF := make(map[string]Timeframe)
	hasDaily := make(map[string]bool)
	var tickers []string

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		idx := strings.LastIndex(name, "_")
		if idx <= 0 {
			continue
		}
		ticker, tf := strings.ToUpper(name[:idx]), Timeframe(name[idx+1:])
		if !tf.IsValid() {
			continue
		}

		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		bars, err := ReadCSV(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}

		p.Load(ticker, tf, bars)
		if _, seen := finestTF[ticker]; !seen && !hasDaily[ticker] {
			tickers = append(tickers, ticker)
		}
		if tf == Timeframe1d {
			hasDaily[ticker] = true
			continue
		}
		if cur, ok := finestTF[ticker]; !ok || tf.Duration() < cur.Duration() {
			finestTF[ticker] = tf
			finest[ticker] = bars
		}
	}

	for ticker, bars := range finest {
		if !hasDaily[ticker] {
			p.Load(ticker, Timeframe1d, ResampleDaily(bars, loc))
		}
	}
	return tickers, nil
}
