package models

import "time"

const DefaultStatus = "I am new!"

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Posts     []string  `json:"posts"`
	CreatedAt time.Time `json:"createdAt"`
}

// Creator is the minimal view of a post's owner.
type Creator struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"imageUrl"`
	Creator   Creator   `json:"creator"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OwnedBy reports whether userID is the post's creator.
func (p Post) OwnedBy(userID string) bool {
	return p.Creator.ID == userID
}

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// PostEvent is the payload of the "posts" broadcast.
type PostEvent struct {
	Action Action `json:"action"`
	Post   *Post  `json:"post,omitempty"`
	PostID string `json:"postId,omitempty"`
}
