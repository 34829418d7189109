package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type typingSession struct {
	ID        int64    `json:"id"`
	UserID    int64    `json:"user_id"`
	StartTime int64    `json:"start_time"`
	EndTime   *int64   `json:"end_time"`
	WPM       *float64 `json:"wpm"`
	Accuracy  *float64 `json:"accuracy"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(userIDContextKey).(int64)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid auth context"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	started := time.Now().UnixMilli()
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO typing_sessions(user_id, start_time)
		VALUES ($1, $2)
		RETURNING id
	`, userID, started).Scan(&id)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to create session"})
		return
	}

	s.logger.Info("session_created", zap.Int64("session_id", id), zap.Int64("user_id", userID))
	respondJSON(w, http.StatusCreated, typingSession{ID: id, UserID: userID, StartTime: started})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(userIDContextKey).(int64)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid auth context"})
		return
	}

	page, pageSize := parsePagination(r)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, start_time, end_time, wpm, accuracy
		FROM typing_sessions
		WHERE user_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to list sessions"})
		return
	}
	defer rows.Close()

	sessions := make([]typingSession, 0, pageSize)
	for rows.Next() {
		var ts typingSession
		if err := rows.Scan(&ts.ID, &ts.UserID, &ts.StartTime, &ts.EndTime, &ts.WPM, &ts.Accuracy); err != nil {
			respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to read sessions"})
			return
		}
		sessions = append(sessions, ts)
	}

	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "page": page, "pageSize": pageSize})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(userIDContextKey).(int64)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid auth context"})
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid session id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var ts typingSession
	err = s.db.QueryRow(ctx, `
		SELECT id, user_id, start_time, end_time, wpm, accuracy
		FROM typing_sessions
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&ts.ID, &ts.UserID, &ts.StartTime, &ts.EndTime, &ts.WPM, &ts.Accuracy)
	if err != nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"detail": "session not found"})
		return
	}

	respondJSON(w, http.StatusOK, ts)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(userIDContextKey).(int64)
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid auth context"})
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid session id"})
		return
	}

	var in struct {
		WPM      float64 `json:"wpm"`
		Accuracy float64 `json:"accuracy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request payload"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	tag, err := s.db.Exec(ctx, `
		UPDATE typing_sessions
		SET end_time = $1, wpm = $2, accuracy = $3
		WHERE id = $4 AND user_id = $5 AND end_time IS NULL
	`, time.Now().UnixMilli(), in.WPM, in.Accuracy, id, userID)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": "failed to end session"})
		return
	}
	if tag.RowsAffected() == 0 {
		respondJSON(w, http.StatusNotFound, map[string]string{"detail": "session not found or already ended"})
		return
	}

	s.logger.Info("session_ended", zap.Int64("session_id", id), zap.Int64("user_id", userID))
	respondJSON(w, http.StatusOK, map[string]string{"detail": "Session ended"})
}
