// Package series implements the compact delimiter-based encoding used for
// the per-day time-series containers and their yearly archives.
//
// A day container serialises as
//
//	day ';' sqid ';' group ';' name '>' detail ( '|' detail )*
//
// where each detail is
//
//	stateCode ';' unixSeconds ';' elapsedMS
//
// and elapsedMS may be empty, meaning "no timing information". Agent
// containers use the same two-level scheme with a `day ';' sqid` header and
// `unixSeconds ';' cpu ';' memory` samples. The format exists so the body can
// grow by plain string append without re-serialising the header.
package series

import (
	"fmt"
	"strconv"
	"strings"

	"pulsewatch/internal/models"
)

const (
	fieldSep  = ";"
	recordSep = "|"
	headerSep = ">"
)

// EncodeDetail renders one detail record.
func EncodeDetail(d models.Detail) string {
	elapsed := ""
	if d.ElapsedMS != nil {
		elapsed = strconv.FormatInt(*d.ElapsedMS, 10)
	}
	return string(d.State.Code()) + fieldSep + strconv.FormatInt(d.Unix, 10) + fieldSep + elapsed
}

// DecodeDetail parses one detail record. An empty elapsed field decodes to a
// nil ElapsedMS, never to zero.
func DecodeDetail(s string) (models.Detail, error) {
	parts := strings.Split(s, fieldSep)
	if len(parts) != 3 {
		return models.Detail{}, fmt.Errorf("detail %q: want 3 fields, got %d", s, len(parts))
	}
	if len(parts[0]) != 1 {
		return models.Detail{}, fmt.Errorf("detail %q: bad state code %q", s, parts[0])
	}
	unix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return models.Detail{}, fmt.Errorf("detail %q: timestamp: %w", s, err)
	}
	d := models.Detail{State: models.StateFromCode(parts[0][0]), Unix: unix}
	if parts[2] != "" {
		elapsed, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return models.Detail{}, fmt.Errorf("detail %q: elapsed: %w", s, err)
		}
		d.ElapsedMS = &elapsed
	}
	return d, nil
}

// EncodeDay renders a full day container. Header fields must not contain any
// of the grammar's delimiters.
func EncodeDay(c models.DayContainer) (string, error) {
	if err := checkFields(c.Day, c.Sqid, c.Group, c.Name); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(c.Day)
	b.WriteString(fieldSep)
	b.WriteString(c.Sqid)
	b.WriteString(fieldSep)
	b.WriteString(c.Group)
	b.WriteString(fieldSep)
	b.WriteString(c.Name)
	b.WriteString(headerSep)
	for i, d := range c.Details {
		if i > 0 {
			b.WriteString(recordSep)
		}
		b.WriteString(EncodeDetail(d))
	}
	return b.String(), nil
}

// DecodeDay parses a day container. An empty body yields zero details.
func DecodeDay(s string) (models.DayContainer, error) {
	header, body, ok := strings.Cut(s, headerSep)
	if !ok {
		return models.DayContainer{}, fmt.Errorf("day container: missing %q separator", headerSep)
	}
	fields := strings.Split(header, fieldSep)
	if len(fields) != 4 {
		return models.DayContainer{}, fmt.Errorf("day container header %q: want 4 fields, got %d", header, len(fields))
	}
	c := models.DayContainer{Day: fields[0], Sqid: fields[1], Group: fields[2], Name: fields[3]}
	if body == "" {
		return c, nil
	}
	for _, rec := range strings.Split(body, recordSep) {
		d, err := DecodeDetail(rec)
		if err != nil {
			return models.DayContainer{}, err
		}
		c.Details = append(c.Details, d)
	}
	return c, nil
}

// AppendDetail grows an already-encoded container body by one record without
// touching the header.
func AppendDetail(encoded string, d models.Detail) string {
	if strings.HasSuffix(encoded, headerSep) {
		return encoded + EncodeDetail(d)
	}
	return encoded + recordSep + EncodeDetail(d)
}

// EncodeAgentSample renders one agent metric sample.
func EncodeAgentSample(s models.AgentSample) string {
	return strconv.FormatInt(s.Unix, 10) + fieldSep +
		strconv.FormatFloat(s.CPU, 'f', -1, 64) + fieldSep +
		strconv.FormatFloat(s.Memory, 'f', -1, 64)
}

// DecodeAgentSample parses one agent metric sample.
func DecodeAgentSample(s string) (models.AgentSample, error) {
	parts := strings.Split(s, fieldSep)
	if len(parts) != 3 {
		return models.AgentSample{}, fmt.Errorf("agent sample %q: want 3 fields, got %d", s, len(parts))
	}
	unix, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return models.AgentSample{}, fmt.Errorf("agent sample %q: timestamp: %w", s, err)
	}
	cpu, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return models.AgentSample{}, fmt.Errorf("agent sample %q: cpu: %w", s, err)
	}
	mem, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return models.AgentSample{}, fmt.Errorf("agent sample %q: memory: %w", s, err)
	}
	return models.AgentSample{Unix: unix, CPU: cpu, Memory: mem}, nil
}

// EncodeAgent renders a full agent container.
func EncodeAgent(c models.AgentContainer) (string, error) {
	if err := checkFields(c.Day, c.Sqid); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(c.Day)
	b.WriteString(fieldSep)
	b.WriteString(c.Sqid)
	b.WriteString(headerSep)
	for i, s := range c.Samples {
		if i > 0 {
			b.WriteString(recordSep)
		}
		b.WriteString(EncodeAgentSample(s))
	}
	return b.String(), nil
}

// DecodeAgent parses an agent container.
func DecodeAgent(s string) (models.AgentContainer, error) {
	header, body, ok := strings.Cut(s, headerSep)
	if !ok {
		return models.AgentContainer{}, fmt.Errorf("agent container: missing %q separator", headerSep)
	}
	fields := strings.Split(header, fieldSep)
	if len(fields) != 2 {
		return models.AgentContainer{}, fmt.Errorf("agent container header %q: want 2 fields, got %d", header, len(fields))
	}
	c := models.AgentContainer{Day: fields[0], Sqid: fields[1]}
	if body == "" {
		return c, nil
	}
	for _, rec := range strings.Split(body, recordSep) {
		sample, err := DecodeAgentSample(rec)
		if err != nil {
			return models.AgentContainer{}, err
		}
		c.Samples = append(c.Samples, sample)
	}
	return c, nil
}

// AppendAgentSample grows an encoded agent container by one sample.
func AppendAgentSample(encoded string, s models.AgentSample) string {
	if strings.HasSuffix(encoded, headerSep) {
		return encoded + EncodeAgentSample(s)
	}
	return encoded + recordSep + EncodeAgentSample(s)
}

func checkFields(fields ...string) error {
	for _, f := range fields {
		if strings.ContainsAny(f, fieldSep+recordSep+headerSep) {
			return fmt.Errorf("field %q contains a reserved delimiter", f)
		}
	}
	return nil
}
