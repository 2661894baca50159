package pulse

import "context"

// Archive moves every day container whose day key is not today into the
// year-keyed archive for its sqid, then deletes the day container. Best
// effort per sqid: one failure is logged and the pass continues with the
// rest. Re-running on an already-archived day finds no container and does
// nothing, so the pass is idempotent.
func (s *Store) Archive(ctx context.Context) {
	today := s.now().UTC().Format(dayFormat)

	keys, err := s.series.StaleDays(today)
	if err != nil {
		s.logger.Error().Err(err).Msg("list archival candidates")
		return
	}

	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}

		container, exists, err := s.series.GetDay(key.Day, key.Sqid)
		if err != nil {
			s.logger.Error().Err(err).Str("day", key.Day).Str("sqid", key.Sqid).Msg("load day container")
			continue
		}
		if !exists {
			continue
		}

		year := key.Day[:4]
		merged := true
		for _, d := range container.Details {
			if err := s.series.AppendArchiveDetail(year, container.Sqid, container.Group, container.Name, d); err != nil {
				s.logger.Error().Err(err).Str("day", key.Day).Str("sqid", key.Sqid).Msg("archive detail")
				merged = false
				break
			}
		}
		if !merged {
			continue
		}

		if err := s.series.DeleteDay(key.Day, key.Sqid); err != nil {
			s.logger.Error().Err(err).Str("day", key.Day).Str("sqid", key.Sqid).Msg("delete archived day")
			continue
		}
		s.logger.Info().Str("day", key.Day).Str("sqid", key.Sqid).
			Int("details", len(container.Details)).Msg("archived day container")
	}
}
