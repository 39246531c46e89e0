package api

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/file"
	"github.com/opd-ai/toxclient/presence"
)

type textRequest struct {
	Text string `json:"text"`
}

type friendRequest struct {
	Address string `json:"address"`
	Message string `json:"message"`
}

type acceptFriendRequest struct {
	PublicKey string `json:"public_key"`
}

type inviteRequest struct {
	Friend uint32 `json:"friend"`
	Key    string `json:"key"`
}

type sendFileRequest struct {
	Path string `json:"path"`
}

type acceptFileRequest struct {
	Dir string `json:"dir"`
}

type callRequest struct {
	Video bool `json:"video"`
}

type deviceRequest struct {
	Device string `json:"device"`
}

type idResponse struct {
	ID any `json:"id"`
}

var okResponse = map[string]bool{"ok": true}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"version":   s.version,
		"connected": s.session.IsConnected(),
	})
}

func (s *Server) handleGetSelf(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newIdentityView(s.session.Presence().Self()))
}

func (s *Server) handleSetName(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.session.Presence().SetName(req.Text); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newIdentityView(s.session.Presence().Self()))
}

func (s *Server) handleSetStatusMessage(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.session.Presence().SetStatusMessage(req.Text); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newIdentityView(s.session.Presence().Self()))
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := presence.ParseStatus(req.Text)
	if err == nil {
		err = s.session.Presence().SetStatus(status)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newIdentityView(s.session.Presence().Self()))
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Save(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func (s *Server) handleListFriends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, mapSlice(s.session.Presence().Friends(), newFriendView))
}

func (s *Server) handleGetFriend(w http.ResponseWriter, r *http.Request) {
	id, err := uint32Param(r, "friend")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.session.Presence().Friend(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newFriendView(f))
}

func (s *Server) handleAddFriend(w http.ResponseWriter, r *http.Request) {
	var req friendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.session.Presence().SendFriendRequest(req.Address, req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleAcceptFriend(w http.ResponseWriter, r *http.Request) {
	var req acceptFriendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	pk, err := engine.ParsePublicKey(req.PublicKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.session.Presence().AcceptFriendRequest(pk)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleRemoveFriend(w http.ResponseWriter, r *http.Request) {
	id, err := uint32Param(r, "friend")
	if err == nil {
		err = s.session.Presence().RemoveFriend(id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id, err := uint32Param(r, "friend")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req textRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.session.Messaging().SendMessage(id, req.Text); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, okResponse)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, mapSlice(s.session.Groups().Groups(), newGroupView))
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := s.session.Groups().CreateGroup()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := uint32Param(r, "group")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.session.Groups().Group(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGroupView(g))
}

func (s *Server) handleLeaveGroup(w http.ResponseWriter, r *http.Request) {
	id, err := uint32Param(r, "group")
	if err == nil {
		err = s.session.Groups().LeaveGroup(id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendGroupMessage(w http.ResponseWriter, r *http.Request) {
	id, err := uint32Param(r, "group")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req textRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.session.Groups().SendGroupMessage(id, req.Text); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, okResponse)
}

func (s *Server) handleInviteFriend(w http.ResponseWriter, r *http.Request) {
	id, err := uint32Param(r, "group")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.session.Groups().InviteFriend(req.Friend, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	invites := s.session.Groups().Invites()
	out := make([]inviteView, 0, len(invites))
	for _, inv := range invites {
		out = append(out, inviteView{Friend: inv.Friend, Key: inv.Key.String()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	key, err := engine.ParseGroupKey(req.Key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.session.Groups().AcceptInvite(req.Friend, key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleDeclineInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	key, err := engine.ParseGroupKey(req.Key)
	if err == nil {
		err = s.session.Groups().DeclineInvite(key)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, mapSlice(s.session.Files().Transfers(), newTransferView))
}

func (s *Server) handleSendFile(w http.ResponseWriter, r *http.Request) {
	friend, err := uint32Param(r, "friend")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req sendFileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.session.Files().SendFile(friend, req.Path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id.String()})
}

func (s *Server) transferID(r *http.Request) (file.ID, error) {
	return file.ParseID(chi.URLParam(r, "transfer"))
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := s.transferID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.session.Files().Transfer(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransferView(t))
}

func (s *Server) handleAcceptTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := s.transferID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req acceptFileRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	dir := req.Dir
	if dir == "" {
		dir = s.downloadDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.session.Files().AcceptFile(id, dir); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func (s *Server) fileControl(op func(file.ID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.transferID(r)
		if err == nil {
			err = op(id)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, okResponse)
	}
}

func (s *Server) handlePauseTransfer(w http.ResponseWriter, r *http.Request) {
	s.fileControl(s.session.Files().PauseFile)(w, r)
}

func (s *Server) handleResumeTransfer(w http.ResponseWriter, r *http.Request) {
	s.fileControl(s.session.Files().ResumeFile)(w, r)
}

func (s *Server) handleKillTransfer(w http.ResponseWriter, r *http.Request) {
	s.fileControl(s.session.Files().KillFile)(w, r)
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Calls().Calls())
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	friend, err := uint32Param(r, "friend")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req callRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	id, err := s.session.Calls().StartCall(friend, req.Video)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id, err := uint32Param(r, "call")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.session.Calls().Call(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleAnswerCall(w http.ResponseWriter, r *http.Request) {
	id, err := uint32Param(r, "call")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req callRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if err := s.session.Calls().AnswerCall(id, req.Video); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func (s *Server) callControl(op func(uint32) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uint32Param(r, "call")
		if err == nil {
			err = op(id)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, okResponse)
	}
}

func (s *Server) handleRejectCall(w http.ResponseWriter, r *http.Request) {
	s.callControl(s.session.Calls().RejectCall)(w, r)
}

func (s *Server) handleHangupCall(w http.ResponseWriter, r *http.Request) {
	s.callControl(s.session.Calls().HangupCall)(w, r)
}

func (s *Server) handleChangeCallType(w http.ResponseWriter, r *http.Request) {
	id, err := uint32Param(r, "call")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req callRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.session.Calls().ChangeCallType(id, req.Video); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func (s *Server) handleSetAudioInput(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.session.Calls().SetAudioInput(req.Device); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}
