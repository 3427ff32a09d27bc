package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/arencloud/s3keeper/internal/apperr"
	"github.com/arencloud/s3keeper/internal/gateway"
	"github.com/arencloud/s3keeper/internal/s3"

	"github.com/gin-gonic/gin"
)

// multipart framing allowance on top of the maximum object size
const multipartOverhead = 1 << 20

func registerBuckets(r *gin.RouterGroup, s *apiServer) {
	r.GET("/buckets", s.listBuckets)
	r.POST("/buckets", s.createBucket)
	r.DELETE("/buckets/:bucket", s.deleteBucket)

	r.GET("/buckets/:bucket/objects", s.listObjects)
	r.POST("/buckets/:bucket/objects", s.uploadObject)
	r.DELETE("/buckets/:bucket/objects", s.deleteObject)
	r.GET("/buckets/:bucket/objects/download", s.downloadObject)
	r.GET("/buckets/:bucket/objects/metadata", s.objectMetadata)
	r.POST("/buckets/:bucket/objects/presign", s.presignObject)

	r.POST("/objects/copy", s.copyObject)
	r.POST("/objects/move", s.moveObject)
}

func credentialID(c *gin.Context) string { return c.Query("credentialId") }

func (s *apiServer) listBuckets(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	items, err := s.gw.ListBuckets(c.Request.Context(), actor(c), credentialID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if items == nil {
		items = []s3.BucketInfo{}
	}
	c.JSON(http.StatusOK, items)
}

func (s *apiServer) createBucket(c *gin.Context) {
	var in struct {
		Name string `json:"name" binding:"required,min=3,max=63"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, bindErr(err))
		return
	}
	if err := s.gw.CreateBucket(c.Request.Context(), actor(c), credentialID(c), in.Name); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": in.Name})
}

func (s *apiServer) deleteBucket(c *gin.Context) {
	if err := s.gw.DeleteBucket(c.Request.Context(), actor(c), credentialID(c), c.Param("bucket")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *apiServer) listObjects(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	in := gateway.ListObjectsInput{
		CredentialID:      credentialID(c),
		Bucket:            c.Param("bucket"),
		Prefix:            c.Query("prefix"),
		Delimiter:         c.Query("delimiter"),
		ContinuationToken: c.Query("continuationToken"),
	}
	if v := c.Query("maxKeys"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			respondError(c, apperr.InvalidInput("maxKeys must be a number"))
			return
		}
		in.MaxKeys = int32(n)
	}
	page, err := s.gw.ListObjects(c.Request.Context(), actor(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *apiServer) uploadObject(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+multipartOverhead)
	fh, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			respondError(c, apperr.InvalidInput("file exceeds maximum allowed size %d", s.maxUpload))
			return
		}
		respondError(c, apperr.InvalidInput("expecting multipart form-data with a file field"))
		return
	}
	key := c.PostForm("key")
	if key == "" {
		key = fh.Filename
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, apperr.Internal("failed to read upload", err))
		return
	}
	defer f.Close()

	res, err := s.gw.Upload(c.Request.Context(), actor(c), gateway.UploadInput{
		CredentialID: credentialID(c),
		Bucket:       c.Param("bucket"),
		Key:          key,
		Body:         f,
		Size:         fh.Size,
		ContentType:  fh.Header.Get("Content-Type"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *apiServer) objectRef(c *gin.Context) gateway.ObjectRef {
	return gateway.ObjectRef{CredentialID: credentialID(c), Bucket: c.Param("bucket"), Key: c.Query("key")}
}

func (s *apiServer) deleteObject(c *gin.Context) {
	if err := s.gw.DeleteObject(c.Request.Context(), actor(c), s.objectRef(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *apiServer) downloadObject(c *gin.Context) {
	ref := s.objectRef(c)
	err := s.gw.Download(c.Request.Context(), actor(c), ref, func(info s3.ObjectInfo, body io.Reader) error {
		ct := info.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		c.Header("Content-Type", ct)
		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(ref.Key)}))
		if info.Size > 0 {
			c.Header("Content-Length", strconv.FormatInt(info.Size, 10))
		}
		c.Status(http.StatusOK)
		_, err := io.Copy(c.Writer, body)
		return err
	})
	if err != nil {
		if c.Writer.Written() {
			s.logger.Warn("download interrupted", "bucket", ref.Bucket, "key", ref.Key, "error", err)
			c.Abort()
			return
		}
		respondError(c, err)
	}
}

func (s *apiServer) objectMetadata(c *gin.Context) {
	info, err := s.gw.HeadObject(c.Request.Context(), actor(c), s.objectRef(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *apiServer) presignObject(c *gin.Context) {
	var in struct {
		Key               string `json:"key" binding:"required"`
		ExpirationSeconds int64  `json:"expirationSeconds" binding:"min=0"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, bindErr(err))
		return
	}
	res, err := s.gw.PresignURL(c.Request.Context(), actor(c), gateway.PresignInput{
		CredentialID: credentialID(c),
		Bucket:       c.Param("bucket"),
		Key:          in.Key,
		Expiration:   time.Duration(in.ExpirationSeconds) * time.Second,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type transferRequest struct {
	CredentialID string `json:"credentialId"`
	SourceBucket string `json:"sourceBucket" binding:"required"`
	SourceKey    string `json:"sourceKey" binding:"required"`
	DestBucket   string `json:"destinationBucket" binding:"required"`
	DestKey      string `json:"destinationKey" binding:"required"`
}

func (r transferRequest) input() gateway.CopyInput {
	return gateway.CopyInput{
		CredentialID: r.CredentialID,
		SourceBucket: r.SourceBucket,
		SourceKey:    r.SourceKey,
		DestBucket:   r.DestBucket,
		DestKey:      r.DestKey,
	}
}

func (s *apiServer) copyObject(c *gin.Context) {
	var in transferRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, bindErr(err))
		return
	}
	if err := s.gw.Copy(c.Request.Context(), actor(c), in.input()); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// moveObject reports the reached state alongside errors so clients can see a
// half-finished move.
func (s *apiServer) moveObject(c *gin.Context) {
	var in transferRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, bindErr(err))
		return
	}
	res, err := s.gw.Move(c.Request.Context(), actor(c), in.input())
	if err != nil {
		c.Header("X-Move-State", string(res.State))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
