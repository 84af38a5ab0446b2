// Package apitest runs an in-process fake of the remote chat API for tests.
package apitest

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	APIPrefix  = "/api/text"
	CSRFToken  = "test-csrf-token"
	ImageBytes = "\x89PNG fake image"
	AudioBytes = "ID3 fake mp3"
)

type file struct {
	OutputAudio string `json:"output_audio,omitempty"`
	OutputImage string `json:"output_image,omitempty"`
}

type item struct {
	ID         int64  `json:"id"`
	InputText  string `json:"input_text"`
	OutputText string `json:"output_text"`
	Files      []file `json:"files"`
}

type fakeChat struct {
	code      string
	title     string
	updatedAt time.Time
	items     []item
}

// Request is what the server saw of one call.
type Request struct {
	Method string
	Path   string
	CSRF   string
	Form   map[string]string
	Audio  []byte
}

// Server is the fake backend. It is safe for concurrent use.
type Server struct {
	URL string

	mu       sync.Mutex
	chats    map[string]*fakeChat
	seq      int
	itemSeq  int64
	clock    time.Time
	failNext map[string]int
	requests []Request
}

// Start runs a Server until the test ends.
func Start(tb testing.TB) *Server {
	tb.Helper()
	s := New()
	ts := httptest.NewServer(s.Router())
	tb.Cleanup(ts.Close)
	s.URL = ts.URL
	return s
}

func New() *Server {
	return &Server{
		chats:    map[string]*fakeChat{},
		clock:    time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		failNext: map[string]int{},
	}
}

// BaseURL is the chat API root to hand to the client.
func (s *Server) BaseURL() string {
	return s.URL + APIPrefix
}

// FailNext makes the next call to "METHOD /path" answer with status.
func (s *Server) FailNext(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[method+" "+path] = status
}

// AddChat seeds a chat with the given history items, stored in the given order.
func (s *Server) AddChat(code, title string, updatedAt time.Time, ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &fakeChat{code: code, title: title, updatedAt: updatedAt}
	for _, id := range ids {
		c.items = append(c.items, item{
			ID:         id,
			InputText:  fmt.Sprintf("question %d", id),
			OutputText: fmt.Sprintf("answer %d", id),
			Files:      []file{},
		})
	}
	s.chats[code] = c
}

// HasChat reports whether code exists on the server.
func (s *Server) HasChat(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chats[code]
	return ok
}

// Requests returns the calls seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many calls matched method and path.
func (s *Server) Count(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(s.record, s.injectFailure)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "route not found"})
	})

	r.GET(APIPrefix, s.root)
	api := r.Group(APIPrefix)
	api.Use(s.csrfRequired)
	api.POST("/chat/create", s.createChat)
	api.POST("/chat", s.sendMessage)
	api.GET("/chat", s.history)
	api.DELETE("/chat", s.deleteChat)
	api.GET("/list_chats", s.listChats)
	api.POST("/transcribe", s.transcribe)
	api.POST("/tts", s.tts)
	api.POST("/generate-image", s.generateImage)
	api.POST("/generate-summary", s.generateSummary)

	r.GET("/media/*path", s.media)
	return r
}

func (s *Server) record(c *gin.Context) {
	rec := Request{
		Method: c.Request.Method,
		Path:   strings.TrimPrefix(c.Request.URL.Path, APIPrefix),
		CSRF:   c.GetHeader("X-CSRFToken"),
		Form:   map[string]string{},
	}
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if form, err := c.MultipartForm(); err == nil {
			for k, v := range form.Value {
				if len(v) > 0 {
					rec.Form[k] = v[0]
				}
			}
			if fh, ok := form.File["audio"]; ok && len(fh) > 0 {
				if f, err := fh[0].Open(); err == nil {
					rec.Audio, _ = io.ReadAll(f)
					f.Close()
				}
			}
		}
	}
	s.mu.Lock()
	s.requests = append(s.requests, rec)
	s.mu.Unlock()
	c.Next()
}

func (s *Server) injectFailure(c *gin.Context) {
	key := c.Request.Method + " " + strings.TrimPrefix(c.Request.URL.Path, APIPrefix)
	s.mu.Lock()
	status, ok := s.failNext[key]
	delete(s.failNext, key)
	s.mu.Unlock()
	if ok {
		c.AbortWithStatusJSON(status, gin.H{"message": "injected failure"})
		return
	}
	c.Next()
}

func (s *Server) csrfRequired(c *gin.Context) {
	if c.GetHeader("X-CSRFToken") != CSRFToken {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "CSRF verification failed"})
		return
	}
	c.Next()
}

func (s *Server) root(c *gin.Context) {
	c.SetCookie("csrftoken", CSRFToken, 3600, "/", "", false, false)
	c.Status(http.StatusOK)
}

// tick returns a strictly increasing timestamp. Caller holds s.mu.
func (s *Server) tick() time.Time {
	s.clock = s.clock.Add(time.Minute)
	return s.clock
}

// newChat creates a chat. Caller holds s.mu.
func (s *Server) newChat(title string) *fakeChat {
	s.seq++
	c := &fakeChat{code: "chat-" + strconv.Itoa(s.seq), title: title, updatedAt: s.tick()}
	s.chats[c.code] = c
	return c
}

func (s *Server) createChat(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	_ = c.ShouldBindJSON(&req)

	s.mu.Lock()
	chat := s.newChat(req.Title)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"code": chat.code})
}

func (s *Server) sendMessage(c *gin.Context) {
	inputType := c.PostForm("input_type")
	code := c.PostForm("chat_code")
	newChat := c.PostForm("new_chat") == "true"
	generateImage := c.PostForm("generate_image") == "true"

	input := c.PostForm("input_content")
	if inputType == "audio" {
		if _, err := c.FormFile("audio"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "audio file required"})
			return
		}
		input = "transcribed audio"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[code]
	resp := gin.H{}
	switch {
	case ok:
	case newChat:
		chat = s.newChat("")
		resp["code"] = chat.code
	default:
		c.JSON(http.StatusNotFound, gin.H{"message": "chat not found"})
		return
	}

	s.itemSeq++
	it := item{ID: s.itemSeq, InputText: input, OutputText: "echo: " + input, Files: []file{}}
	if inputType == "audio" {
		it.Files = append(it.Files, file{OutputAudio: fmt.Sprintf("audio/%d.mp3", it.ID)})
		resp["input_text"] = input
	}
	if generateImage {
		it.Files = append(it.Files, file{OutputImage: fmt.Sprintf("/media/images/%d.png", it.ID)})
	}
	chat.items = append(chat.items, it)
	chat.updatedAt = s.tick()
	if chat.title == "" {
		chat.title = input
		resp["title"] = input
	}

	resp["output_text"] = it.OutputText
	resp["files"] = it.Files
	c.JSON(http.StatusOK, resp)
}

// history answers newest first so clients must sort.
func (s *Server) history(c *gin.Context) {
	code := c.Query("chat_code")
	perPage, err := strconv.Atoi(c.DefaultQuery("per_page", "100"))
	if err != nil || perPage <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "bad per_page"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[code]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "chat not found"})
		return
	}
	out := make([]item, 0, len(chat.items))
	for i := len(chat.items) - 1; i >= 0 && len(out) < perPage; i-- {
		out = append(out, chat.items[i])
	}
	c.JSON(http.StatusOK, gin.H{"history": out})
}

func (s *Server) deleteChat(c *gin.Context) {
	code := c.Query("chat_code")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[code]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "chat not found"})
		return
	}
	delete(s.chats, code)
	c.Status(http.StatusNoContent)
}

func (s *Server) listChats(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gin.H, 0, len(s.chats))
	for _, chat := range s.chats {
		entry := gin.H{"code": chat.code, "updated_at": chat.updatedAt.Format(time.RFC3339)}
		if chat.title != "" {
			entry["title"] = chat.title
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) transcribe(c *gin.Context) {
	fh, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "audio file required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcription": fmt.Sprintf("%d bytes of %s", fh.Size, fh.Header.Get("Content-Type"))})
}

type textReq struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) tts(c *gin.Context) {
	var req textReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "text required"})
		return
	}
	c.Data(http.StatusOK, "audio/mpeg", []byte(AudioBytes))
}

func (s *Server) generateImage(c *gin.Context) {
	var req textReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "text required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"image_base64": base64.StdEncoding.EncodeToString([]byte(ImageBytes))})
}

func (s *Server) generateSummary(c *gin.Context) {
	var req textReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "text required"})
		return
	}
	words := strings.Fields(req.Text)
	if len(words) > 3 {
		words = words[:3]
	}
	c.JSON(http.StatusOK, gin.H{"summary_text": strings.Join(words, " ")})
}

func (s *Server) media(c *gin.Context) {
	path := c.Param("path")
	switch {
	case strings.HasSuffix(path, ".png"):
		c.Data(http.StatusOK, "image/png", []byte(ImageBytes))
	case strings.HasSuffix(path, ".mp3"):
		c.Data(http.StatusOK, "audio/mpeg", []byte(AudioBytes))
	default:
		c.JSON(http.StatusNotFound, gin.H{"message": "no such media"})
	}
}
