package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/ecgtrainer/internal/i18n"
	"github.com/pavelanni/ecgtrainer/internal/imagebank"
	"github.com/pavelanni/ecgtrainer/internal/label"
	"github.com/pavelanni/ecgtrainer/internal/model"
)

type unclassifiedResponse struct {
	FileName string   `json:"fileName"`
	Path     string   `json:"path"`
	Labels   []string `json:"labels"`
}

func (h *Handler) handleRandomUnclassified(w http.ResponseWriter, r *http.Request) {
	name, err := h.bank.RandomUnclassified()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unclassifiedResponse{
		FileName: name,
		Path:     h.path("/images/" + imagebank.UnclassifiedPath(name)),
		Labels:   label.Labels(),
	})
}

type classifyRequest struct {
	FileName    string  `json:"fileName" validate:"required,max=255"`
	Category    string  `json:"category" validate:"required"`
	Subcategory string  `json:"subcategory"`
	Rate        float64 `json:"rate" validate:"min=0,max=100"`
}

// handleClassifyImage records the ground truth of an unlabeled image and moves
// the file into the graded tree. The row and the move succeed or fail together.
func (h *Handler) handleClassifyImage(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	cat, sub, err := label.Resolve(req.Category, req.Subcategory)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.bank.Exists(req.FileName) {
		// Already moved by an earlier classification, or never uploaded.
		if ok, err := h.store.IsClassified(req.FileName); err == nil && ok {
			h.writeError(w, r, model.ErrAlreadyClassified)
			return
		}
		h.writeError(w, r, model.ErrImageNotFound)
		return
	}
	rate := req.Rate
	if rate == 0 {
		rate = 1
	}

	ic := model.ImageClassification{PhotoName: req.FileName, Category: cat, Subcategory: sub, Rate: rate}
	id, err := h.store.ClassifyWith(ic,
		func() error { return h.bank.Move(req.FileName, cat, sub) },
		func() error { return h.bank.Restore(req.FileName, cat, sub) },
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ic.ID = id
	slog.Info("image classified", "photo", ic.PhotoName, "category", ic.Category, "subcategory", ic.Subcategory)

	writeJSON(w, http.StatusCreated, struct {
		Message string `json:"message"`
		model.ImageClassification
	}{appI18n.T(r.Context(), "ImageClassified"), ic})
}

func (h *Handler) handleClassifiedImages(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListClassifications()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.ImageClassification{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.store.ListGroups()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if groups == nil {
		groups = []model.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

type createGroupRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

func (h *Handler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.store.CreateGroup(strings.TrimSpace(req.Name))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Message string `json:"message"`
		ID      int64  `json:"id"`
	}{appI18n.T(r.Context(), "GroupCreated"), id})
}

type addMemberRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.groupID(w, r)
	if !ok {
		return
	}
	var req addMemberRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.store.AddMember(groupID, strings.ToLower(strings.TrimSpace(req.Email))); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, r, http.StatusOK, "MemberAdded", "")
}

func (h *Handler) handleGroupStats(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.groupID(w, r)
	if !ok {
		return
	}
	st, err := h.store.GroupStats(r.Context(), groupID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) groupID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "groupID"), 10, 64)
	if err != nil {
		h.writeError(w, r, model.ErrGroupNotFound)
		return 0, false
	}
	return id, true
}
