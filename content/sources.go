package content

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/manifest"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/resolver"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/storage"
)

func (d *Deployer) deployStorage(ctx context.Context, m *manifest.Manifest, it manifest.StorageItem, dest Destination, scope resolver.Lookuper) (ItemResult, error) {
	fields, err := d.resolver.ResolveStrings(ctx, map[string]string{"path": it.Path, "target": it.Target}, scope)
	if err != nil {
		return ItemResult{}, err
	}
	if m.FS == nil {
		return ItemResult{}, errors.New(errors.CodeInvalidInput, "manifest has no filesystem to read content from")
	}

	prefix := storage.JoinKey(dest.Prefix, orDefault(fields["target"], it.Name))
	return d.uploadTree(ctx, m.FS, fields["path"], it.Exclude, dest.Bucket, prefix, it.Name)
}

func (d *Deployer) deployDashboard(ctx context.Context, m *manifest.Manifest, it manifest.DashboardItem, dest Destination, scope resolver.Lookuper) (ItemResult, error) {
	fields, err := d.resolver.ResolveStrings(ctx, map[string]string{"path": it.Path, "target": it.Target}, scope)
	if err != nil {
		return ItemResult{}, err
	}
	if m.FS == nil {
		return ItemResult{}, errors.New(errors.CodeInvalidInput, "manifest has no filesystem to read content from")
	}

	prefix := storage.JoinKey(dest.Prefix, "dashboards", orDefault(fields["target"], it.Name))
	return d.uploadTree(ctx, m.FS, fields["path"], nil, dest.Bucket, prefix, it.Name)
}

func (d *Deployer) deployGit(ctx context.Context, it manifest.GitItem, dest Destination, scope resolver.Lookuper) (ItemResult, error) {
	fields, err := d.resolver.ResolveStrings(ctx, map[string]string{
		"url":    it.URL,
		"ref":    it.Ref,
		"target": it.Target,
		"token":  it.Token,
	}, scope)
	if err != nil {
		return ItemResult{}, err
	}

	worktree, err := d.cloner.Clone(ctx, GitSource{URL: fields["url"], Ref: fields["ref"], Token: fields["token"]})
	if err != nil {
		return ItemResult{}, err
	}

	prefix := storage.JoinKey(dest.Prefix, orDefault(fields["target"], it.Name))
	return d.uploadTree(ctx, worktree, "/", []string{".git"}, dest.Bucket, prefix, it.Name)
}

// uploadTree uploads root, a file or a directory of fsys, under prefix.
// Directory entries keep their path relative to root.
func (d *Deployer) uploadTree(ctx context.Context, fsys billy.Filesystem, root string, exclude []string, bucket, prefix, item string) (ItemResult, error) {
	info, err := fsys.Stat(root)
	if err != nil {
		return ItemResult{}, errors.Wrap(err, errors.CodeNotFound, fmt.Sprintf("content path %s not found", root)).
			WithContext("path", root)
	}

	res := ItemResult{Location: fmt.Sprintf("s3://%s/%s", bucket, prefix)}
	put := func(name, rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		body, err := util.ReadFile(fsys, name)
		if err != nil {
			return errors.Wrap(err, errors.CodeNotFound, "failed to read "+name)
		}
		obj := storage.Object{
			Bucket:   bucket,
			Key:      storage.JoinKey(prefix, rel),
			Body:     body,
			Metadata: map[string]string{"content-item": item},
		}
		if _, err := d.transfer.Put(ctx, obj); err != nil {
			return storage.Classify(err, "failed to upload "+obj.Key)
		}
		res.Objects++
		res.Bytes += int64(len(body))
		return nil
	}

	if !info.IsDir() {
		if err := put(root, path.Base(filepath.ToSlash(root))); err != nil {
			return ItemResult{}, err
		}
		return res, nil
	}

	err = util.Walk(fsys, root, func(name string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(root, name)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if excluded(rel, exclude) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if fi.IsDir() {
			return nil
		}
		return put(name, rel)
	})
	if err != nil {
		return ItemResult{}, err
	}
	return res, nil
}

// excluded matches rel, and each of its path segments, against shell patterns.
func excluded(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, rel); ok {
			return true
		}
		for _, seg := range strings.Split(rel, "/") {
			if ok, _ := path.Match(p, seg); ok {
				return true
			}
		}
	}
	return false
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
