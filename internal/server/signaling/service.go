// Package signaling implements the per-session state machine, the
// endpoint-session multiplexer, and the point-to-point message router.
// Events for one session are serialized; sessions proceed independently.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/dropwire/internal/common"
	"github.com/dmitrijs2005/dropwire/internal/cryptox"
	"github.com/dmitrijs2005/dropwire/internal/logging"
	"github.com/dmitrijs2005/dropwire/internal/server/abuse"
	"github.com/dmitrijs2005/dropwire/internal/server/audit"
	"github.com/dmitrijs2005/dropwire/internal/server/models"
	"github.com/dmitrijs2005/dropwire/internal/server/ratelimit"
	"github.com/dmitrijs2005/dropwire/internal/server/registry"
	"github.com/dmitrijs2005/dropwire/internal/server/sessions"
	"github.com/dmitrijs2005/dropwire/internal/server/validate"
)

// Deps bundles the collaborators of the signaling service. All shared
// state is injected so tests can substitute deterministic clocks and
// counters.
type Deps struct {
	Repo          sessions.Repository
	Registry      *registry.Registry
	Cipher        *cryptox.FieldCipher
	Hub           *Hub
	Guard         *abuse.Guard
	Cap           *abuse.SessionCap
	Audit         *audit.Log
	Logger        logging.Logger
	UploadLimiter *ratelimit.Limiter
	JoinLimiter   *ratelimit.Limiter
	Clock         func() time.Time
}

// Service is the signaling state machine. One instance serves every
// session; per-session ordering comes from the hub's session locks.
type Service struct {
	repo      sessions.Repository
	reg       *registry.Registry
	crypt     *cryptox.FieldCipher
	hub       *Hub
	router    *Router
	guard     *abuse.Guard
	cap       *abuse.SessionCap
	log       *audit.Log
	logger    logging.Logger
	limUpload *ratelimit.Limiter
	limJoin   *ratelimit.Limiter
	now       func() time.Time
}

func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return &Service{
		repo:      d.Repo,
		reg:       d.Registry,
		crypt:     d.Cipher,
		hub:       d.Hub,
		router:    NewRouter(d.Hub, d.Guard, d.Audit, d.Logger),
		guard:     d.Guard,
		cap:       d.Cap,
		log:       d.Audit,
		logger:    d.Logger.With("module", "signaling"),
		limUpload: d.UploadLimiter,
		limJoin:   d.JoinLimiter,
		now:       d.Clock,
	}
}

// Hub exposes the multiplexer for the boundary adapter.
func (s *Service) Hub() *Hub {
	return s.hub
}

func (s *Service) sendError(ep *Endpoint, message string) {
	if err := ep.Send(EventError, ErrorEvent{Message: message}); err != nil {
		s.logger.Debug(context.Background(), "error event delivery failed", "endpoint", ep.ID)
	}
}

func (s *Service) sendCodeError(ep *Endpoint, message string) {
	if err := ep.Send(EventError, ErrorEvent{Message: message, InvalidCode: true}); err != nil {
		s.logger.Debug(context.Background(), "error event delivery failed", "endpoint", ep.ID)
	}
}

// HandleUploadInit creates a session for the sending endpoint: the upload
// rate limiter first, then validation, then the per-IP session cap, then
// the durable row, the registry entry, and room membership for the sender.
func (s *Service) HandleUploadInit(ctx context.Context, ep *Endpoint, req UploadInit) {
	if d := s.limUpload.Check(ep.ID); !d.Allowed {
		s.guard.MarkSuspicious(ep.IP, "upload_rate_limited")
		wait := int(d.RetryAfter(s.now()).Seconds())
		s.sendError(ep, fmt.Sprintf("Too many uploads, retry in %d seconds", wait))
		return
	}

	nameRes := validate.FileName(req.FileName)
	if !nameRes.Valid {
		s.sendError(ep, nameRes.Err)
		return
	}
	size, err := req.FileSize.Int64()
	if err != nil {
		s.sendError(ep, "file size must be a number")
		return
	}
	if sizeRes := validate.FileSize(size); !sizeRes.Valid {
		s.sendError(ep, sizeRes.Err)
		return
	}
	typeRes := validate.MIMEType(req.FileType)
	if !typeRes.Valid {
		s.sendError(ep, typeRes.Err)
		return
	}

	if err := s.cap.Acquire(ep.IP); err != nil {
		s.log.Record(audit.Entry{
			Level: audit.LevelWarn, Event: "session_cap_denied",
			EndpointID: ep.ID, IP: ep.IP,
			Details: map[string]any{"reason": err.Error()},
		})
		s.sendError(ep, "Session limit reached, try again later")
		return
	}

	encName, err := s.crypt.Encrypt(nameRes.Sanitized)
	if err != nil {
		s.cap.Release(ep.IP)
		s.logger.Error(ctx, "metadata encryption failed", "error", err)
		s.sendError(ep, "Internal server error")
		return
	}
	encType, err := s.crypt.Encrypt(typeRes.Sanitized)
	if err != nil {
		s.cap.Release(ep.IP)
		s.logger.Error(ctx, "metadata encryption failed", "error", err)
		s.sendError(ep, "Internal server error")
		return
	}

	s.createSession(ctx, ep, encName, encType, size, req.FileHash, nameRes, typeRes)
}

func (s *Service) createSession(ctx context.Context, ep *Endpoint, encName, encType string, size int64, fileHash string, nameRes, typeRes validate.Result) {
	id, err := s.repo.Create(ctx, &models.Session{
		EncryptedFileName: encName,
		FileSize:          size,
		EncryptedFileType: encType,
		FileHash:          fileHash,
	})
	if err != nil {
		s.cap.Release(ep.IP)
		s.logger.Error(ctx, "session create failed", "error", err)
		s.sendError(ep, "Internal server error")
		return
	}

	s.hub.LockSession(id)
	defer s.hub.UnlockSession(id)

	code, err := s.reg.Register(id, ep.ID)
	if err != nil {
		s.cap.Release(ep.IP)
		if derr := s.repo.Delete(ctx, id); derr != nil {
			s.logger.Error(ctx, "orphan session cleanup failed", "session", id, "error", derr)
		}
		s.logger.Error(ctx, "code minting failed", "error", err)
		s.sendError(ep, "Internal server error")
		return
	}

	s.hub.Join(id, ep.ID)

	warnings := collectWarnings(nameRes, typeRes)
	if err := ep.Send(EventUploadCreated, UploadCreated{
		FileID:      id,
		OneTimeCode: code,
		Warnings:    warnings,
	}); err != nil {
		s.logger.Debug(ctx, "upload-created delivery failed", "endpoint", ep.ID)
	}

	s.log.Record(audit.Entry{
		Level: audit.LevelInfo, Event: "upload_created",
		EndpointID: ep.ID, SessionID: id, IP: ep.IP,
		Details: map[string]any{"size": size, "dangerous": nameRes.Dangerous || typeRes.Dangerous},
	})
}

// HandleJoinRoom admits a receiver that presents the session's one-time
// code, activates the session, and introduces the two endpoints.
func (s *Service) HandleJoinRoom(ctx context.Context, ep *Endpoint, req JoinRoom) {
	if d := s.limJoin.Check(ep.ID); !d.Allowed {
		s.guard.MarkSuspicious(ep.IP, "join_rate_limited")
		wait := int(d.RetryAfter(s.now()).Seconds())
		s.sendError(ep, fmt.Sprintf("Too many attempts, retry in %d seconds", wait))
		return
	}

	idRes := validate.SessionID(req.FileID)
	if !idRes.Valid {
		s.guard.MarkSuspicious(ep.IP, "invalid_session_id")
		s.log.Security("invalid_session_id", ep.ID, "", ep.IP, nil)
		s.sendError(ep, idRes.Err)
		return
	}
	id := idRes.Sanitized

	s.hub.LockSession(id)
	defer s.hub.UnlockSession(id)

	session, err := s.repo.Find(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		s.sendError(ep, "Session not found")
		return
	}
	if err != nil {
		s.logger.Error(ctx, "session lookup failed", "session", id, "error", err)
		s.sendError(ep, "Internal server error")
		return
	}

	if session.Status == models.StatusCompleted {
		s.sendError(ep, "File already downloaded")
		return
	}

	senderID := s.reg.Sender(id)
	if senderID == "" {
		s.sendError(ep, "Sender is offline")
		return
	}

	switch err := s.reg.ValidateCode(id, req.Code); {
	case errors.Is(err, common.ErrCodeUsed):
		s.guard.MarkSuspicious(ep.IP, "code_replay")
		s.log.Security("code_replay", ep.ID, id, ep.IP, nil)
		s.sendCodeError(ep, "Code already used")
		return
	case errors.Is(err, common.ErrInvalidCode):
		s.guard.MarkSuspicious(ep.IP, "invalid_code")
		s.sendCodeError(ep, "Invalid code")
		return
	case errors.Is(err, common.ErrNotFound):
		s.sendError(ep, "Sender is offline")
		return
	case err != nil:
		s.logger.Error(ctx, "code validation failed", "session", id, "error", err)
		s.sendError(ep, "Internal server error")
		return
	}

	if err := s.repo.SetStatus(ctx, id, models.StatusActive); err != nil {
		if errors.Is(err, common.ErrAlreadyDownloaded) {
			s.sendError(ep, "File already downloaded")
			return
		}
		s.logger.Error(ctx, "session activation failed", "session", id, "error", err)
		s.sendError(ep, "Internal server error")
		return
	}

	s.hub.Join(id, ep.ID)

	fileName := s.crypt.Decrypt(session.EncryptedFileName)
	fileType := s.crypt.Decrypt(session.EncryptedFileType)
	nameRes := validate.FileName(fileName)
	typeRes := validate.MIMEType(fileType)

	meta := FileMeta{
		FileName:    fileName,
		FileSize:    strconv.FormatInt(session.FileSize, 10),
		FileType:    fileType,
		FileHash:    session.FileHash,
		IsDangerous: nameRes.Dangerous || typeRes.Dangerous,
		Warnings:    collectWarnings(nameRes, typeRes),
	}
	if err := ep.Send(EventFileMeta, meta); err != nil {
		s.logger.Debug(ctx, "file-meta delivery failed", "endpoint", ep.ID)
	}

	if senderEp, ok := s.hub.Endpoint(senderID); ok {
		if err := senderEp.Send(EventReceiverJoined, ReceiverJoined{ReceiverID: ep.ID}); err != nil {
			s.logger.Debug(ctx, "receiver-joined delivery failed", "endpoint", senderID)
		}
	}

	s.log.Record(audit.Entry{
		Level: audit.LevelInfo, Event: "receiver_joined",
		EndpointID: ep.ID, SessionID: id, IP: ep.IP,
	})
}

// HandleSignal relays a negotiation payload. Routing failures are silent:
// the relay path never answers, it only audits.
func (s *Service) HandleSignal(ctx context.Context, ep *Endpoint, req Signal) {
	idRes := validate.SessionID(req.FileID)
	if !idRes.Valid {
		s.guard.MarkSuspicious(ep.IP, "invalid_session_id")
		s.log.Security("invalid_session_id", ep.ID, "", ep.IP, nil)
		return
	}
	id := idRes.Sanitized

	s.hub.LockSession(id)
	defer s.hub.UnlockSession(id)

	s.router.Relay(ep, req.Target, id, req.Data)
}

// HandleCancel notifies the peer that the session was aborted.
func (s *Service) HandleCancel(ctx context.Context, ep *Endpoint, req CancelTransfer) {
	idRes := validate.SessionID(req.FileID)
	if !idRes.Valid {
		s.guard.MarkSuspicious(ep.IP, "invalid_session_id")
		return
	}
	id := idRes.Sanitized

	s.hub.LockSession(id)
	defer s.hub.UnlockSession(id)

	if !s.hub.InRoom(id, ep.ID) {
		s.guard.MarkSuspicious(ep.IP, "cancel_outside_room")
		s.log.Security("cancel_outside_room", ep.ID, id, ep.IP, nil)
		return
	}

	for _, peer := range s.hub.RoomPeers(id, ep.ID) {
		if err := peer.Send(EventTransferCancelled, TransferCancelled{Reason: req.Reason}); err != nil {
			s.logger.Debug(ctx, "transfer-cancelled delivery failed", "endpoint", peer.ID)
		}
	}

	s.log.Record(audit.Entry{
		Level: audit.LevelInfo, Event: "transfer_cancelled",
		EndpointID: ep.ID, SessionID: id, IP: ep.IP,
		Details: map[string]any{"reason": req.Reason},
	})
}

// HandleComplete finishes a transfer: the durable row is deleted outright
// so the id cannot be re-joined, and the sender's concurrency slot is
// returned.
func (s *Service) HandleComplete(ctx context.Context, ep *Endpoint, req TransferComplete) {
	idRes := validate.SessionID(req.FileID)
	if !idRes.Valid {
		s.guard.MarkSuspicious(ep.IP, "invalid_session_id")
		return
	}
	id := idRes.Sanitized

	s.hub.LockSession(id)
	defer s.hub.UnlockSession(id)

	if !s.hub.InRoom(id, ep.ID) {
		s.guard.MarkSuspicious(ep.IP, "complete_outside_room")
		s.log.Security("complete_outside_room", ep.ID, id, ep.IP, nil)
		return
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.Error(ctx, "session delete failed", "session", id, "error", err)
		s.sendError(ep, "Internal server error")
		return
	}

	if senderID := s.reg.Sender(id); senderID != "" {
		if senderEp, ok := s.hub.Endpoint(senderID); ok {
			s.cap.Release(senderEp.IP)
		}
	}
	s.reg.Remove(id)
	s.hub.CloseRoom(id)

	s.log.Record(audit.Entry{
		Level: audit.LevelInfo, Event: "transfer_complete",
		EndpointID: ep.ID, SessionID: id, IP: ep.IP,
	})
}

// HandleDisconnect tears down everything the endpoint was part of. For each
// joined session the peer is told the counterpart is gone; a departing
// sender resets an ACTIVE session to WAITING (the receiver may reopen) and
// always gives up its registry entry and concurrency slot. The caller
// invokes the abuse guard's disconnect hook only after this returns.
func (s *Service) HandleDisconnect(ctx context.Context, ep *Endpoint) {
	for _, id := range s.hub.SessionsOf(ep.ID) {
		s.hub.LockSession(id)

		for _, peer := range s.hub.RoomPeers(id, ep.ID) {
			if err := peer.Send(EventPeerDisconnected, PeerDisconnected{EndpointID: ep.ID}); err != nil {
				s.logger.Debug(ctx, "peer-disconnected delivery failed", "endpoint", peer.ID)
			}
		}

		if s.reg.IsSender(id, ep.ID) {
			session, err := s.repo.Find(ctx, id)
			if err == nil && session.Status == models.StatusActive {
				if err := s.repo.SetStatus(ctx, id, models.StatusWaiting); err != nil {
					s.logger.Error(ctx, "session reset failed", "session", id, "error", err)
				}
			}
			s.reg.Remove(id)
			s.cap.Release(ep.IP)
		}

		s.hub.Leave(id, ep.ID)
		s.hub.UnlockSession(id)
	}

	s.hub.RemoveEndpoint(ep.ID)

	s.log.Record(audit.Entry{
		Level: audit.LevelInfo, Event: "endpoint_disconnected",
		EndpointID: ep.ID, IP: ep.IP,
	})
}

func collectWarnings(results ...validate.Result) []string {
	var warnings []string
	for _, r := range results {
		if r.Warning != "" {
			warnings = append(warnings, r.Warning)
		}
	}
	return warnings
}
