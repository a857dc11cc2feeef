package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"github.com/Triyansha/newsletter-rag/internal/domain"
	"github.com/Triyansha/newsletter-rag/internal/domain/search/filter"
	"github.com/Triyansha/newsletter-rag/internal/domain/search/result"
	"github.com/Triyansha/newsletter-rag/internal/store"
)

var returnFields = []string{
	"source_id", "sender", "title", "ts", "idx", "start", "end", "text", "__vector_score",
}

// Search implements store.Store via FT.SEARCH KNN. Sender and date
// constraints become a pre-filter so k survives filtering.
func (s *Store) Search(ctx context.Context, vector []float32, k int, f filter.Filter) ([]result.Result, error) {
	if len(vector) != s.dimensions {
		return nil, fmt.Errorf("query vector: %w: got %d, want %d",
			domain.ErrDimensionMismatch, len(vector), s.dimensions)
	}
	if k <= 0 {
		return []result.Result{}, nil
	}

	knnPart := fmt.Sprintf("[KNN %d @vector $BLOB]", k)
	queryStr := "*=>" + knnPart
	if filterStr := buildFilter(f); filterStr != "" {
		queryStr = fmt.Sprintf("(%s)=>%s", filterStr, knnPart)
	}

	args := []string{s.indexName(), queryStr}
	args = append(args, "RETURN", strconv.Itoa(len(returnFields)))
	args = append(args, returnFields...)
	args = append(args,
		"LIMIT", "0", strconv.Itoa(k),
		"PARAMS", "2", "BLOB", vectorToBytes(vector),
		"DIALECT", "2",
	)

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, fmt.Errorf("knn search: %w: %w", domain.ErrStoreUnavailable, err)
	}

	results, err := s.parseKNNResult(raw)
	if err != nil {
		return nil, err
	}

	store.SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *Store) parseKNNResult(raw []rueidis.RedisMessage) ([]result.Result, error) {
	if len(raw) == 0 {
		return []result.Result{}, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return []result.Result{}, nil
	}

	results := make([]result.Result, 0, total)
	// 2-stride: [total, key1, fields1, key2, fields2, ...]
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		fieldMsgs, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		fields := parseFieldPairs(fieldMsgs)

		score := 0.0
		if scoreStr, ok := fields["__vector_score"]; ok {
			if v, err := strconv.ParseFloat(scoreStr, 64); err == nil {
				score = max(0, 1.0-v) // cosine distance to similarity, clamped to [0,1]
			}
		}

		results = append(results, result.New(s.chunkFromFields(key, fields), score))
	}

	return results, nil
}

func (s *Store) chunkFromFields(key string, fields map[string]string) domain.Chunk {
	idx, _ := strconv.Atoi(fields["idx"])
	start, _ := strconv.Atoi(fields["start"])
	end, _ := strconv.Atoi(fields["end"])
	ts, _ := strconv.ParseInt(fields["ts"], 10, 64)

	return domain.Chunk{
		ID:        strings.TrimPrefix(key, s.chunkKeyPrefix()),
		SourceID:  fields["source_id"],
		Index:     idx,
		Start:     start,
		End:       end,
		Text:      fields["text"],
		Sender:    fields["sender"],
		Title:     fields["title"],
		Timestamp: time.Unix(ts, 0).UTC(),
	}
}

// buildFilter translates a search filter into an FT.SEARCH pre-filter.
func buildFilter(f filter.Filter) string {
	if f.IsEmpty() {
		return ""
	}

	var parts []string
	if f.Sender() != "" {
		parts = append(parts, fmt.Sprintf("@sender:{%s}", tagEscaper.Replace(f.Sender())))
	}
	if f.HasDateRange() {
		minBound := "-inf"
		maxBound := "+inf"
		if !f.After().IsZero() {
			minBound = strconv.FormatInt(f.After().Unix(), 10)
		}
		if !f.Before().IsZero() {
			// Upper bound is exclusive.
			maxBound = "(" + strconv.FormatInt(f.Before().Unix(), 10)
		}
		parts = append(parts, fmt.Sprintf("@ts:[%s %s]", minBound, maxBound))
	}

	return strings.Join(parts, " ")
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

var tagEscaper = strings.NewReplacer(
	",", "\\,",
	".", "\\.",
	"<", "\\<",
	">", "\\>",
	"{", "\\{",
	"}", "\\}",
	"\"", "\\\"",
	"'", "\\'",
	":", "\\:",
	";", "\\;",
	"!", "\\!",
	"@", "\\@",
	"#", "\\#",
	"$", "\\$",
	"%", "\\%",
	"^", "\\^",
	"&", "\\&",
	"*", "\\*",
	"(", "\\(",
	")", "\\)",
	"-", "\\-",
	"+", "\\+",
	"=", "\\=",
	"~", "\\~",
	" ", "\\ ",
)

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

func bytesToVector(s string) []float32 {
	if len(s) < 4 {
		return nil
	}
	buf := []byte(s)
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
