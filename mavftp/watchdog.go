package mavftp

// Poll runs one watchdog tick: stalled-open retry, stalled-burst resend, gap
// servicing, write-window upkeep. It returns true when the session has been
// quiescent - no send within IdleDetectionTime - which is the signal the
// blocking loop uses to declare a stalled exchange.
//
// Poll must be called from the same goroutine that handles replies; all
// state transitions are synchronous.
func (s *Session) Poll() bool {
	now := s.clock.Now()

	// Stalled open: invalidate the session so a stale Ack in flight cannot
	// attach to the retried open, then reissue. Opens retry at most twice.
	if r := s.read; r != nil && !r.opened {
		if now.Sub(s.lastOpTime) > s.config.RetryTime {
			s.openRetries++
			if s.openRetries > 2 {
				s.failRead(newError(ErrRemoteReplyTimeout, "get"))
			} else {
				s.logger.Info("open stalled, retry %d for %q", s.openRetries, r.name)
				if err := s.send(newRequest(s.sessionID, OpTerminateSession, 0, nil)); err != nil {
					s.logger.Error("terminate send failed: %v", err)
				}
				s.sessionID = s.sessionID + 1
				if err := s.send(newRequest(s.sessionID, OpOpenFileRO, 0, []byte(r.name))); err != nil {
					s.failRead(&Error{Code: ErrFail, Op: "get", Detail: "transport: " + err.Error()})
				}
			}
		}
	}

	// Stalled burst: no data for a retry interval and EOF not seen means
	// the remainder of the burst was lost; ask again from the cursor.
	// Unbounded here - the overall operation timeout is the limit.
	if r := s.read; r != nil && r.opened && !r.reachedEOF {
		if now.Sub(r.lastBurstData) > s.config.RetryTime {
			r.retries++
			r.lastBurstData = now
			s.logger.Info("burst stalled at %d, retry %d", r.cursor, r.retries)
			s.sendBurstRead(r.cursor)
		}
	}

	s.serviceGaps(now)

	s.checkWriteStalled(now)
	s.fillWriteWindow()

	return now.Sub(s.lastSendTime) > s.config.IdleDetectionTime
}
