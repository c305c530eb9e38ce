package mongostore

import (
	"context"
	"time"

	"murmur/internal/models"
	"murmur/internal/observability"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type postDocument struct {
	ID             string    `bson:"_id"`
	AuthorID       string    `bson:"author_id"`
	Body           string    `bson:"body"`
	RepostTargetID *string   `bson:"repost_target_id,omitempty"`
	LikerIDs       []string  `bson:"liker_ids"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func (d *postDocument) model() *models.Post {
	likers := d.LikerIDs
	if likers == nil {
		likers = []string{}
	}
	return &models.Post{
		ID:             d.ID,
		AuthorID:       d.AuthorID,
		Body:           d.Body,
		RepostTargetID: d.RepostTargetID,
		LikerIDs:       likers,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

// newestFirst sorts by created_at, breaking ties on _id.
var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

// PostStore is a MongoDB-backed repository.PostRepository.
type PostStore struct {
	coll    *mongo.Collection
	log     *observability.RepoLogger
	metrics *observability.StoreMetrics
}

func NewPostStore(db *mongo.Database) *PostStore {
	return &PostStore{
		coll:    db.Collection(postsCollection),
		log:     observability.NewRepoLogger(backend, postsCollection),
		metrics: observability.NewStoreMetrics(backend),
	}
}

func (s *PostStore) begin(ctx context.Context, op string) (context.Context, func(error) error) {
	return begin(ctx, s.metrics, postsCollection, op)
}

func (s *PostStore) fail(ctx context.Context, err error, op, id string) error {
	return storeError(ctx, err, s.metrics, s.log, op, "Post", id)
}

func (s *PostStore) Create(ctx context.Context, post *models.Post) (err error) {
	ctx, end := s.begin(ctx, "create")
	defer func() { err = end(err) }()

	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	post.UpdatedAt = post.CreatedAt
	post.LikerIDs = []string{}

	doc := postDocument{
		ID:             post.ID,
		AuthorID:       post.AuthorID,
		Body:           post.Body,
		RepostTargetID: post.RepostTargetID,
		LikerIDs:       []string{},
		CreatedAt:      post.CreatedAt,
		UpdatedAt:      post.UpdatedAt,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return s.fail(ctx, err, "create", post.ID)
	}
	s.log.LogCreate(ctx, map[string]interface{}{"post_id": post.ID, "author_id": post.AuthorID})
	return nil
}

func (s *PostStore) Update(ctx context.Context, post *models.Post) (err error) {
	ctx, end := s.begin(ctx, "update")
	defer func() { err = end(err) }()

	var doc postDocument
	err = s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": post.ID},
		bson.M{"$set": bson.M{"body": post.Body, "updated_at": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return s.fail(ctx, err, "update", post.ID)
	}
	*post = *doc.model()
	s.log.LogUpdate(ctx, map[string]interface{}{"post_id": post.ID})
	return nil
}

func (s *PostStore) Delete(ctx context.Context, id string) (err error) {
	ctx, end := s.begin(ctx, "delete")
	defer func() { err = end(err) }()

	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return s.fail(ctx, err, "delete", id)
	}
	if res.DeletedCount == 0 {
		return models.NewNotFoundError("Post", id)
	}
	s.log.LogDelete(ctx, map[string]interface{}{"post_id": id})
	return nil
}

func (s *PostStore) FindByID(ctx context.Context, id string) (_ *models.Post, err error) {
	ctx, end := s.begin(ctx, "find_by_id")
	defer func() { err = end(err) }()

	var doc postDocument
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, s.fail(ctx, err, "find_by_id", id)
	}
	return doc.model(), nil
}

func (s *PostStore) FindByIDs(ctx context.Context, ids []string) (_ []*models.Post, err error) {
	if len(ids) == 0 {
		return []*models.Post{}, nil
	}
	ctx, end := s.begin(ctx, "find_by_ids")
	defer func() { err = end(err) }()
	return s.find(ctx, "find_by_ids", bson.M{"_id": bson.M{"$in": ids}}, options.Find())
}

func (s *PostStore) FindByAuthorIDs(ctx context.Context, authorIDs []string, page models.Page) (_ []*models.Post, err error) {
	if len(authorIDs) == 0 {
		return []*models.Post{}, nil
	}
	ctx, end := s.begin(ctx, "find_by_authors")
	defer func() { err = end(err) }()
	return s.find(ctx, "find_by_authors", bson.M{"author_id": bson.M{"$in": authorIDs}}, pageOptions(page))
}

func (s *PostStore) FindByRepostTarget(ctx context.Context, targetID string, page models.Page) (_ []*models.Post, err error) {
	ctx, end := s.begin(ctx, "find_by_repost_target")
	defer func() { err = end(err) }()
	return s.find(ctx, "find_by_repost_target", bson.M{"repost_target_id": targetID}, pageOptions(page))
}

// pageOptions applies skip/limit only when they are set.
func pageOptions(page models.Page) *options.FindOptionsBuilder {
	opts := options.Find().SetSort(newestFirst)
	if page.Skip > 0 {
		opts.SetSkip(int64(page.Skip))
	}
	if page.Limit > 0 {
		opts.SetLimit(int64(page.Limit))
	}
	return opts
}

func (s *PostStore) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptionsBuilder) ([]*models.Post, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, s.fail(ctx, err, op, "")
	}
	defer cur.Close(ctx)

	var docs []postDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, s.fail(ctx, err, op, "")
	}
	out := make([]*models.Post, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].model())
	}
	return out, nil
}

func (s *PostStore) CountReposts(ctx context.Context, targetID string) (_ int64, err error) {
	ctx, end := s.begin(ctx, "count_reposts")
	defer func() { err = end(err) }()

	n, err := s.coll.CountDocuments(ctx, bson.M{"repost_target_id": targetID})
	if err != nil {
		return 0, s.fail(ctx, err, "count_reposts", targetID)
	}
	return n, nil
}

func (s *PostStore) ExistsRepost(ctx context.Context, authorID, targetID string) (_ bool, err error) {
	ctx, end := s.begin(ctx, "exists_repost")
	defer func() { err = end(err) }()

	n, err := s.coll.CountDocuments(ctx,
		bson.M{"author_id": authorID, "repost_target_id": targetID},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, s.fail(ctx, err, "exists_repost", targetID)
	}
	return n > 0, nil
}

func (s *PostStore) AddLiker(ctx context.Context, postID, userID string) (_ *models.Post, err error) {
	ctx, end := s.begin(ctx, "add_liker")
	defer func() { err = end(err) }()
	return s.updateLikers(ctx, "add_liker", postID, bson.M{"$addToSet": bson.M{"liker_ids": userID}})
}

func (s *PostStore) RemoveLiker(ctx context.Context, postID, userID string) (_ *models.Post, err error) {
	ctx, end := s.begin(ctx, "remove_liker")
	defer func() { err = end(err) }()
	return s.updateLikers(ctx, "remove_liker", postID, bson.M{"$pull": bson.M{"liker_ids": userID}})
}

func (s *PostStore) updateLikers(ctx context.Context, op, postID string, update bson.M) (*models.Post, error) {
	var doc postDocument
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": postID},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, s.fail(ctx, err, op, postID)
	}
	return doc.model(), nil
}

func (s *PostStore) Count(ctx context.Context) (_ int64, err error) {
	ctx, end := s.begin(ctx, "count")
	defer func() { err = end(err) }()

	n, err := s.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, s.fail(ctx, err, "count", "")
	}
	return n, nil
}
