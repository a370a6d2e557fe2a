package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/xelth-com/eckposgo/internal/catalog"
	"github.com/xelth-com/eckposgo/internal/middleware"
	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/store"
)

func catalogResponse(items []models.CachedCatalogItem, progress catalog.Progress) map[string]interface{} {
	return map[string]interface{}{
		"items":    items,
		"count":    len(items),
		"progress": progress,
	}
}

func (r *Router) catalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrSuperseded):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, catalog.ErrNoProfile):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusBadGateway, err.Error())
	}
}

// LoadCatalogRequest asks for the item catalog of the shift profile
type LoadCatalogRequest struct {
	Force bool `json:"force"`
}

func (r *Router) loadCatalog(w http.ResponseWriter, req *http.Request) {
	var body LoadCatalogRequest
	if req.ContentLength > 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request payload")
			return
		}
	}
	claims, _ := middleware.ShiftFromContext(req.Context())
	items, err := r.Catalog.LoadAll(req.Context(), claims.Profile, body.Force)
	if err != nil {
		r.catalogError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, catalogResponse(items, r.Catalog.Progress()))
}

func (r *Router) loadMore(w http.ResponseWriter, req *http.Request) {
	items, err := r.Catalog.LoadMore(req.Context())
	if err != nil {
		r.catalogError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, catalogResponse(items, r.Catalog.Progress()))
}

func (r *Router) catalogPage(w http.ResponseWriter, req *http.Request) {
	n, err := strconv.Atoi(mux.Vars(req)["n"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page")
		return
	}
	items, err := r.Catalog.FetchPage(req.Context(), n)
	if err != nil {
		r.catalogError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, catalogResponse(items, r.Catalog.Progress()))
}

// SelectGroupRequest narrows the catalog to one item group; empty clears it
type SelectGroupRequest struct {
	Group string `json:"item_group"`
}

func (r *Router) selectGroup(w http.ResponseWriter, req *http.Request) {
	var body SelectGroupRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	items, err := r.Catalog.SetSelectedGroup(req.Context(), body.Group)
	if err != nil {
		r.catalogError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, catalogResponse(items, r.Catalog.Progress()))
}

// profileUpdate applies a profile change pushed by the server
func (r *Router) profileUpdate(w http.ResponseWriter, req *http.Request) {
	var body catalog.ProfileInfo
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if body.Name == "" {
		claims, _ := middleware.ShiftFromContext(req.Context())
		body.Name = claims.Profile
	}
	if err := r.Catalog.SetProfile(req.Context(), body); err != nil {
		r.catalogError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, r.Catalog.Profile())
}

func (r *Router) catalogProgress(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, r.Catalog.Progress())
}

// searchItems queries the local mirror only, so it works offline
func (r *Router) searchItems(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	query := store.ItemQuery{Search: q.Get("search"), Limit: 50}
	if g := q.Get("item_group"); g != "" {
		query.Groups = []string{g}
	}
	for name, dst := range map[string]*int{"offset": &query.Offset, "limit": &query.Limit} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				respondError(w, http.StatusBadRequest, "Invalid "+name)
				return
			}
			*dst = n
		}
	}
	items := r.Store.QueryItems(req.Context(), query)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
		"total": r.Store.CountItems(req.Context(), query.Groups),
	})
}
