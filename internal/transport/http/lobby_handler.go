package http

import (
	"encoding/json"
	"log"
	"net/http"

	"quiz-lobby-service/internal/app"
	"quiz-lobby-service/internal/domain"
)

// LobbyHandler exposes the lobby and quiz use cases over HTTP. Every service
// error collapses to one uniform failure status; the error kinds stay
// distinguishable inside the service layer only.
type LobbyHandler struct {
	service *app.LobbyService
	quizzes app.QuizRepository
}

func NewLobbyHandler(service *app.LobbyService, quizzes app.QuizRepository) *LobbyHandler {
	return &LobbyHandler{service: service, quizzes: quizzes}
}

// Register mounts the routes on the mux.
func (h *LobbyHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /lobby/create", h.create)
	mux.HandleFunc("POST /lobby/{id}/join", h.join)
	mux.HandleFunc("POST /lobby/{id}/info", h.info)
	mux.HandleFunc("POST /lobby/{id}/start", h.start)
	mux.HandleFunc("POST /lobby/{id}/questions", h.questions)
	mux.HandleFunc("GET /lobby/{id}/results", h.results)
	mux.HandleFunc("POST /lobby/{lobby_id}/player/{player_id}/answer", h.answers)
	mux.HandleFunc("POST /quiz/create", h.createQuiz)
	mux.HandleFunc("POST /quiz/{id}/answer", h.checkQuizAnswers)
	mux.HandleFunc("GET /quiz", h.listQuizzes)
}

type dataEnvelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(dataEnvelope{Data: payload}); err != nil {
		log.Printf("write response: %v", err)
	}
}

// writeError surfaces one uniform failure signal upward, whatever the kind.
func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: err.Error()})
}

func decodeBody(r *http.Request, into any) error {
	return json.NewDecoder(r.Body).Decode(into)
}

type createdLobby struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	QuizName    string   `json:"quizName"`
	OwnerID     string   `json:"ownerId"`
	OwnerName   string   `json:"ownerName"`
	PlayerNames []string `json:"playerNames"`
}

func (h *LobbyHandler) create(w http.ResponseWriter, r *http.Request) {
	var req app.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	lobby, err := h.service.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	names := make([]string, 0, len(lobby.Players()))
	for _, p := range lobby.Players() {
		names = append(names, p.Name)
	}
	writeJSON(w, createdLobby{
		ID:          lobby.ID(),
		Name:        lobby.Name(),
		QuizName:    lobby.Quiz().Name,
		OwnerID:     lobby.Owner().ID,
		OwnerName:   lobby.Owner().Name,
		PlayerNames: names,
	})
}

func (h *LobbyHandler) join(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerName string `json:"playerName"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	playerID, err := h.service.JoinLobby(r.Context(), r.PathValue("id"), req.PlayerName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct {
		PlayerID string `json:"playerId"`
	}{PlayerID: playerID})
}

func (h *LobbyHandler) info(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"playerId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	info, err := h.service.GetLobbyInfo(r.Context(), r.PathValue("id"), req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, info)
}

func (h *LobbyHandler) start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"playerId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.service.Start(r.Context(), r.PathValue("id"), req.PlayerID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, "OK")
}

func (h *LobbyHandler) questions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"playerId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	lobbyID := r.PathValue("id")
	inLobby, err := h.service.IsPlayerInLobby(r.Context(), lobbyID, req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !inLobby {
		writeError(w, domain.ErrUnauthorized)
		return
	}
	ongoing, err := h.service.IsLobbyOngoing(r.Context(), lobbyID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ongoing {
		state, err := h.service.LobbyState(r.Context(), lobbyID)
		if err != nil {
			writeError(w, err)
			return
		}
		if state == domain.LobbyEnded {
			writeError(w, domain.ErrLobbyAlreadyEnded)
		} else {
			writeError(w, domain.ErrLobbyNotStarted)
		}
		return
	}
	questions, err := h.service.GetLobbyQuestions(r.Context(), lobbyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, questions)
}

func (h *LobbyHandler) results(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.GetLobbyResults(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, results)
}

func (h *LobbyHandler) answers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answers *[]int `json:"answers"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Answers == nil {
		writeError(w, &domain.ValidationError{Msg: "the 'answers' array is required in the payload"})
		return
	}
	err := h.service.AddAnswers(r.Context(), r.PathValue("lobby_id"), r.PathValue("player_id"), *req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, "OK")
}

type quizPayload struct {
	Name      string `json:"name"`
	Questions []struct {
		Prompt        string   `json:"prompt"`
		Choices       []string `json:"choices"`
		SolutionIndex int      `json:"solutionIndex"`
	} `json:"questions"`
}

func (h *LobbyHandler) createQuiz(w http.ResponseWriter, r *http.Request) {
	var req quizPayload
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	questions := make([]domain.Question, 0, len(req.Questions))
	for _, q := range req.Questions {
		mcq, err := domain.NewMultipleChoiceQuestion(q.Prompt, q.Choices, q.SolutionIndex)
		if err != nil {
			writeError(w, err)
			return
		}
		questions = append(questions, mcq)
	}
	quiz, err := domain.NewQuiz(req.Name, questions)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := h.quizzes.AddQuiz(r.Context(), quiz)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, struct {
		ID string `json:"id"`
	}{ID: id})
}

func (h *LobbyHandler) checkQuizAnswers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answers *[]int `json:"answers"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Answers == nil {
		writeError(w, &domain.ValidationError{Msg: "the 'answers' array is required in the payload"})
		return
	}
	quiz, err := h.quizzes.GetQuiz(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, app.CheckResults(quiz, *req.Answers))
}

type quizSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	QuestionCount int    `json:"questionCount"`
}

func (h *LobbyHandler) listQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := h.quizzes.ListQuizzes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	summaries := make([]quizSummary, 0, len(quizzes))
	for _, q := range quizzes {
		summaries = append(summaries, quizSummary{ID: q.ID, Name: q.Name, QuestionCount: len(q.Questions)})
	}
	writeJSON(w, summaries)
}
