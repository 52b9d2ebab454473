package protocol

import (
	"github.com/vkucera/task-coach/internal/codec"
	"github.com/vkucera/task-coach/internal/crypto"
)

// negotiation waits for version offers. The desktop offers its highest
// version and steps down each time the device declines. An offer above
// MaxVersion is therefore answered with 0 and the next offer awaited; an
// offer below MinVersion ends the session without a reply, as no lower
// offer could be accepted either.
type negotiation struct{}

func (*negotiation) phase() Phase { return PhaseNegotiation }

func (s *negotiation) enter(m *Machine) (state, error) {
	return s, m.expect(codec.Int32)
}

func (s *negotiation) receive(m *Machine, v codec.Value) (state, error) {
	offered := int(v.Int())
	cfg := m.sess.cfg
	switch {
	case offered < cfg.MinVersion:
		return nil, newError(ReasonVersion, ErrVersionUnsupported, "desktop offered %d, need %d..%d", offered, cfg.MinVersion, cfg.MaxVersion)
	case offered > cfg.MaxVersion:
		m.log.Debug().Int("offered", offered).Msg("Declining version")
		if err := m.send(AckDesc, codec.Int(0)); err != nil {
			return nil, err
		}
		return s, m.expect(codec.Int32)
	}
	if err := m.sess.SetVersion(offered); err != nil {
		return nil, newError(ReasonVersion, err, "")
	}
	if err := m.send(AckDesc, codec.Int(1)); err != nil {
		return nil, err
	}
	m.log = m.log.With().Int("version", offered).Logger()
	m.log.Info().Msg("Protocol version negotiated")
	return &identity{}, nil
}

// identity sends the device name, device id and the GUID of the desktop
// file the device was last synced with, and receives the desktop GUID.
type identity struct{}

func (*identity) phase() Phase { return PhaseIdentity }

func (s *identity) enter(m *Machine) (state, error) {
	deviceID, err := m.sess.cfg.Store.DeviceID(m.ctx)
	if err != nil {
		return nil, storeError("device id", err)
	}
	paired, err := m.sess.cfg.Store.PairedGUID(m.ctx)
	if err != nil {
		return nil, storeError("paired guid", err)
	}
	err = m.send(IdentityDesc, codec.Tuple(
		codec.Str(m.sess.cfg.DeviceName),
		codec.Str(deviceID),
		codec.Str(paired),
	))
	if err != nil {
		return nil, err
	}
	return s, m.expect(IDDesc)
}

func (s *identity) receive(m *Machine, v codec.Value) (state, error) {
	guid := v.Str()
	if guid == "" {
		return nil, unexpected("desktop sent an empty file GUID")
	}
	m.sess.peerGUID = guid
	m.log.Debug().Str("guid", guid).Msg("Desktop identified")
	return &authentication{}, nil
}

type authStage int

const (
	authFlag authStage = iota
	authChallenge
	authVerdict
)

// authentication answers the optional password challenge.
type authentication struct {
	stage    authStage
	attempts int
	password string
	// fromStore is set when password came from the credential store.
	fromStore bool
}

func (*authentication) phase() Phase { return PhaseAuthentication }

func (s *authentication) enter(m *Machine) (state, error) {
	return s, m.expect(AckDesc)
}

func (s *authentication) receive(m *Machine, v codec.Value) (state, error) {
	switch s.stage {
	case authFlag:
		switch v.Int() {
		case 0:
			return &syncMode{}, nil
		case 1:
			s.stage = authChallenge
			return s, m.expect(ChallengeDesc)
		}
		return nil, unexpected("authentication flag %d", v.Int())

	case authChallenge:
		password, err := s.lookup(m)
		if err != nil {
			return nil, err
		}
		s.password = password
		if err := m.send(DigestDesc, codec.Raw(crypto.ChallengeDigest(v.Bytes(), password))); err != nil {
			return nil, err
		}
		s.stage = authVerdict
		return s, m.expect(AckDesc)

	default:
		switch v.Int() {
		case 1:
			s.remember(m)
			m.log.Debug().Msg("Password accepted")
			return &syncMode{}, nil
		case 0:
			s.attempts++
			s.forget(m)
			m.log.Warn().Int("attempt", s.attempts).Msg("Password rejected")
			if s.attempts >= MaxAuthAttempts {
				return nil, newError(ReasonAuth, ErrAuthRejected, "after %d attempts", s.attempts)
			}
			s.stage = authChallenge
			return s, m.expect(ChallengeDesc)
		}
		return nil, unexpected("authentication verdict %d", v.Int())
	}
}

// lookup returns the password for the next attempt: the stored one first,
// then whatever the controller prompts for.
func (s *authentication) lookup(m *Machine) (string, error) {
	cfg := m.sess.cfg
	if s.attempts == 0 && cfg.Credentials != nil {
		if b, err := cfg.Credentials.Get(m.sess.CredentialKey()); err == nil {
			s.fromStore = true
			return string(b), nil
		}
	}
	s.fromStore = false
	prompter, ok := cfg.Controller.(CredentialPrompter)
	if !ok {
		return "", newError(ReasonAuth, ErrNoCredential, "for %s", m.sess.CredentialKey())
	}
	password, err := prompter.Password(cfg.Host, s.attempts+1)
	if err != nil {
		return "", newError(ReasonAuth, ErrNoCredential, "%v", err)
	}
	return password, nil
}

func (s *authentication) remember(m *Machine) {
	creds := m.sess.cfg.Credentials
	if creds == nil || s.fromStore {
		return
	}
	if err := creds.Put(m.sess.CredentialKey(), []byte(s.password)); err != nil {
		m.log.Warn().Err(err).Msg("Failed to store desktop password")
	}
}

func (s *authentication) forget(m *Machine) {
	creds := m.sess.cfg.Credentials
	if creds == nil || !s.fromStore {
		return
	}
	if err := creds.Delete(m.sess.CredentialKey()); err != nil {
		m.log.Debug().Err(err).Msg("Failed to clear stored desktop password")
	}
}

// syncMode receives the transfer mode chosen by the desktop.
type syncMode struct{}

func (*syncMode) phase() Phase { return PhaseSyncMode }

func (s *syncMode) enter(m *Machine) (state, error) {
	return s, m.expect(codec.Int32)
}

func (s *syncMode) receive(m *Machine, v codec.Value) (state, error) {
	mode := SyncMode(v.Int())
	switch mode {
	case ModeTwoWay, ModeFullFromDesktop, ModeFullFromDevice:
	case modePeerCancelled:
		return nil, newError(ReasonPeerCancelled, ErrPeerCancelled, "")
	default:
		return nil, unexpected("sync mode %d", v.Int())
	}
	m.sess.mode = mode
	m.log = m.log.With().Str("mode", mode.String()).Logger()
	m.log.Info().Msg("Transfer starting")

	switch mode {
	case ModeFullFromDesktop:
		return &download{phaseOf: PhaseFullFromDesktop, full: true, then: func() state { return &trailer{} }}, nil
	case ModeFullFromDevice:
		return &upload{phaseOf: PhaseFullFromDevice, full: true, then: func() state { return &trailer{} }}, nil
	default:
		return &upload{phaseOf: PhaseTwoWayUpload, then: func() state {
			return &download{phaseOf: PhaseTwoWayDownload, then: func() state { return &trailer{} }}
		}}, nil
	}
}

// trailer receives the desktop GUID, remembers it as the paired desktop and
// sends the final acknowledgement.
type trailer struct{}

func (*trailer) phase() Phase { return PhaseTrailer }

func (s *trailer) enter(m *Machine) (state, error) {
	return s, m.expect(IDDesc)
}

func (s *trailer) receive(m *Machine, v codec.Value) (state, error) {
	guid := v.Str()
	if guid != m.sess.peerGUID {
		return nil, unexpected("final GUID %q differs from %q", guid, m.sess.peerGUID)
	}
	if err := m.sess.cfg.Store.SetPairedGUID(m.ctx, guid); err != nil {
		return nil, storeError("set paired guid", err)
	}
	if err := m.send(AckDesc, codec.Int(1)); err != nil {
		return nil, err
	}
	m.t.CloseWhenDone()
	m.succeed()
	return end{}, nil
}
