package bot

import (
	"fmt"
	"strconv"
	"strings"

	"kirjastokaveri/internal/filter"
	"kirjastokaveri/internal/search"
)

// ParseSearchArgs parses /search arguments. Format:
// <words...> [author:<value>] [subject:<value>] [format:<value>]
func ParseSearchArgs(args string) (search.Query, error) {
	text, filters := filter.Parse(strings.TrimSpace(args))
	if text == "" && filters.IsEmpty() {
		return search.Query{}, fmt.Errorf("usage: /search <query> [author:<name>] [subject:<name>] [format:<code>]")
	}
	if text == "" {
		return search.Query{}, fmt.Errorf("search words are required in addition to filters")
	}
	return search.Query{
		Text:    text,
		Limit:   searchResultLimit,
		Filters: filters,
	}, nil
}

// ParseRecordArg extracts a catalog record id from a command argument string.
func ParseRecordArg(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", fmt.Errorf("record ID is required")
	}
	return fields[0], nil
}

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}
