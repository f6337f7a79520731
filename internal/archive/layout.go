package archive

import (
	"path/filepath"
	"strconv"
)

// Archive layout, relative to the archive root.

const resumePath = "resume"

func categoryDir(categoryID int) string {
	return filepath.Join("c", strconv.Itoa(categoryID))
}

func categoryMetaPath(categoryID int) string {
	return filepath.Join(categoryDir(categoryID), "show.json")
}

func categoryLogoPath(categoryID int, ext string) string {
	return filepath.Join(categoryDir(categoryID), "logo"+ext)
}

func topicPagePath(categoryID, page int) string {
	return filepath.Join(categoryDir(categoryID), "topic_pages", strconv.Itoa(page)+".json")
}

func urlCachePath(categoryID int) string {
	return filepath.Join(categoryDir(categoryID), "urlcache")
}

func dataCachePath(categoryID int) string {
	return filepath.Join(categoryDir(categoryID), "datacache")
}

func topicsDir(categoryID int) string {
	return filepath.Join(categoryDir(categoryID), "topics")
}

func topicDir(categoryID, topicID int) string {
	return filepath.Join(topicsDir(categoryID), strconv.Itoa(topicID))
}

func topicPath(categoryID, topicID int) string {
	return filepath.Join(topicDir(categoryID, topicID), "topic.json")
}

func postsDir(categoryID, topicID int) string {
	return filepath.Join(topicDir(categoryID, topicID), "posts")
}

func postPath(categoryID, topicID, postID int) string {
	return filepath.Join(postsDir(categoryID, topicID), strconv.Itoa(postID)+".json")
}

func chunkPath(categoryID, topicID, chunk int) string {
	return filepath.Join(topicDir(categoryID, topicID), "chunks", "post_chunk_"+strconv.Itoa(chunk)+".json")
}

func directoryPagePath(page int) string {
	return filepath.Join("directory", "page_"+strconv.Itoa(page)+".json")
}

func userDir(userID int) string {
	return filepath.Join("u", strconv.Itoa(userID))
}

func tagDir(tag string) string {
	return filepath.Join("tags", tag)
}

func groupBase(id int, name string) string {
	return filepath.Join("groups", strconv.Itoa(id)+"_"+name)
}
