package repository

import (
	"context"
	"time"

	"murmur/internal/models"
	"murmur/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// postRepository implements PostRepository on top of GORM. Liker sets live
// in the likes table; the auto-increment id keeps append order.
type postRepository struct {
	db      *gorm.DB
	system  string
	log     *observability.RepoLogger
	metrics *observability.StoreMetrics
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	system := db.Dialector.Name()
	return &postRepository{
		db:      db,
		system:  system,
		log:     observability.NewRepoLogger(system, "posts"),
		metrics: observability.NewStoreMetrics(system),
	}
}

func (r *postRepository) begin(ctx context.Context, op string) (context.Context, func(error) error) {
	ctx, span := observability.GetTraceLayer().TraceRepositoryMethod(ctx, r.system, op, "posts")
	done := r.metrics.Track(op)
	return ctx, func(err error) error {
		done()
		observability.EndSpan(span, err)
		return err
	}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) (err error) {
	ctx, end := r.begin(ctx, "create")
	defer func() { err = end(err) }()

	post.LikerIDs = nil
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return storeError(ctx, err, r.metrics, r.log, "create", "Post", post.ID)
	}
	post.LikerIDs = []string{}
	r.log.LogCreate(ctx, map[string]interface{}{"post_id": post.ID, "author_id": post.AuthorID})
	return nil
}

func (r *postRepository) Update(ctx context.Context, post *models.Post) (err error) {
	ctx, end := r.begin(ctx, "update")
	defer func() { err = end(err) }()

	res := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ?", post.ID).
		Updates(map[string]interface{}{"body": post.Body, "updated_at": time.Now()})
	if res.Error != nil {
		return storeError(ctx, res.Error, r.metrics, r.log, "update", "Post", post.ID)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Post", post.ID)
	}

	stored, err := r.find(ctx, "update", post.ID)
	if err != nil {
		return err
	}
	*post = *stored
	r.log.LogUpdate(ctx, map[string]interface{}{"post_id": post.ID})
	return nil
}

func (r *postRepository) Delete(ctx context.Context, id string) (err error) {
	ctx, end := r.begin(ctx, "delete")
	defer func() { err = end(err) }()

	var affected int64
	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", id).Delete(&models.Like{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Post{})
		affected = res.RowsAffected
		return res.Error
	})
	if txErr != nil {
		return storeError(ctx, txErr, r.metrics, r.log, "delete", "Post", id)
	}
	if affected == 0 {
		return models.NewNotFoundError("Post", id)
	}
	r.log.LogDelete(ctx, map[string]interface{}{"post_id": id})
	return nil
}

func (r *postRepository) FindByID(ctx context.Context, id string) (_ *models.Post, err error) {
	ctx, end := r.begin(ctx, "find_by_id")
	defer func() { err = end(err) }()
	return r.find(ctx, "find_by_id", id)
}

func (r *postRepository) find(ctx context.Context, op, id string) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&post).Error; err != nil {
		return nil, storeError(ctx, err, r.metrics, r.log, op, "Post", id)
	}
	if err := r.attachLikers(ctx, []*models.Post{&post}); err != nil {
		return nil, storeError(ctx, err, r.metrics, r.log, op, "Post", id)
	}
	return &post, nil
}

func (r *postRepository) FindByIDs(ctx context.Context, ids []string) (_ []*models.Post, err error) {
	if len(ids) == 0 {
		return []*models.Post{}, nil
	}
	ctx, end := r.begin(ctx, "find_by_ids")
	defer func() { err = end(err) }()

	var posts []*models.Post
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&posts).Error; err != nil {
		return nil, storeError(ctx, err, r.metrics, r.log, "find_by_ids", "Post", "")
	}
	if err := r.attachLikers(ctx, posts); err != nil {
		return nil, storeError(ctx, err, r.metrics, r.log, "find_by_ids", "Post", "")
	}
	return posts, nil
}

func (r *postRepository) FindByAuthorIDs(ctx context.Context, authorIDs []string, page models.Page) (_ []*models.Post, err error) {
	if len(authorIDs) == 0 {
		return []*models.Post{}, nil
	}
	ctx, end := r.begin(ctx, "find_by_authors")
	defer func() { err = end(err) }()

	observability.AddTraceAttributesToContext(ctx, attribute.Int("authors", len(authorIDs)))
	return r.list(ctx, "find_by_authors", r.db.WithContext(ctx).Where("author_id IN ?", authorIDs), page)
}

func (r *postRepository) FindByRepostTarget(ctx context.Context, targetID string, page models.Page) (_ []*models.Post, err error) {
	ctx, end := r.begin(ctx, "find_by_repost_target")
	defer func() { err = end(err) }()

	return r.list(ctx, "find_by_repost_target", r.db.WithContext(ctx).Where("repost_target_id = ?", targetID), page)
}

func (r *postRepository) list(ctx context.Context, op string, q *gorm.DB, page models.Page) ([]*models.Post, error) {
	var posts []*models.Post
	if err := paginate(q.Order("created_at DESC").Order("id DESC"), page).Find(&posts).Error; err != nil {
		return nil, storeError(ctx, err, r.metrics, r.log, op, "Post", "")
	}
	if err := r.attachLikers(ctx, posts); err != nil {
		return nil, storeError(ctx, err, r.metrics, r.log, op, "Post", "")
	}
	return posts, nil
}

// paginate applies skip/limit only when they are set.
func paginate(q *gorm.DB, page models.Page) *gorm.DB {
	if page.Skip > 0 {
		q = q.Offset(page.Skip)
	}
	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	}
	return q
}

func (r *postRepository) CountReposts(ctx context.Context, targetID string) (_ int64, err error) {
	ctx, end := r.begin(ctx, "count_reposts")
	defer func() { err = end(err) }()

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("repost_target_id = ?", targetID).
		Count(&count).Error; err != nil {
		return 0, storeError(ctx, err, r.metrics, r.log, "count_reposts", "Post", targetID)
	}
	return count, nil
}

func (r *postRepository) ExistsRepost(ctx context.Context, authorID, targetID string) (_ bool, err error) {
	ctx, end := r.begin(ctx, "exists_repost")
	defer func() { err = end(err) }()

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("author_id = ? AND repost_target_id = ?", authorID, targetID).
		Count(&count).Error; err != nil {
		return false, storeError(ctx, err, r.metrics, r.log, "exists_repost", "Post", targetID)
	}
	return count > 0, nil
}

func (r *postRepository) AddLiker(ctx context.Context, postID, userID string) (_ *models.Post, err error) {
	ctx, end := r.begin(ctx, "add_liker")
	defer func() { err = end(err) }()

	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&models.Post{}).Where("id = ?", postID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return models.NewNotFoundError("Post", postID)
		}
		// ON CONFLICT DO NOTHING keeps concurrent double-likes atomic.
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Like{UserID: userID, PostID: postID}).Error
	})
	if txErr != nil {
		return nil, storeError(ctx, txErr, r.metrics, r.log, "add_liker", "Post", postID)
	}
	return r.find(ctx, "add_liker", postID)
}

func (r *postRepository) RemoveLiker(ctx context.Context, postID, userID string) (_ *models.Post, err error) {
	ctx, end := r.begin(ctx, "remove_liker")
	defer func() { err = end(err) }()

	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&models.Post{}).Where("id = ?", postID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return models.NewNotFoundError("Post", postID)
		}
		return tx.Where("user_id = ? AND post_id = ?", userID, postID).Delete(&models.Like{}).Error
	})
	if txErr != nil {
		return nil, storeError(ctx, txErr, r.metrics, r.log, "remove_liker", "Post", postID)
	}
	return r.find(ctx, "remove_liker", postID)
}

func (r *postRepository) Count(ctx context.Context) (_ int64, err error) {
	ctx, end := r.begin(ctx, "count")
	defer func() { err = end(err) }()

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Post{}).Count(&count).Error; err != nil {
		return 0, storeError(ctx, err, r.metrics, r.log, "count", "Post", "")
	}
	return count, nil
}

// attachLikers loads liker ids for all posts with a single query.
func (r *postRepository) attachLikers(ctx context.Context, posts []*models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(posts))
	byID := make(map[string]*models.Post, len(posts))
	for _, p := range posts {
		p.LikerIDs = []string{}
		ids = append(ids, p.ID)
		byID[p.ID] = p
	}

	var likes []models.Like
	if err := r.db.WithContext(ctx).
		Select("post_id", "user_id").
		Where("post_id IN ?", ids).
		Order("id ASC").
		Find(&likes).Error; err != nil {
		return err
	}
	for _, l := range likes {
		if p := byID[l.PostID]; p != nil {
			p.LikerIDs = append(p.LikerIDs, l.UserID)
		}
	}
	return nil
}
