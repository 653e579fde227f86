package model

// Category groups traced operations the way the analysis tooling buckets them.
type Category string

const (
	CategoryData              Category = "datacall"
	CategoryDirectory         Category = "directorycall"
	CategoryExtendedAttribute Category = "extendedattributecall"
	CategoryMetadata          Category = "metadatacall"
	CategorySpecial           Category = "specialcall"
	CategoryUnknown           Category = "unknown"
)

var categories = map[string]Category{}

func init() {
	register := func(c Category, ops ...string) {
		for _, op := range ops {
			categories[op] = c
		}
	}
	register(CategoryData, "read", "write", "pread", "pwrite", "pread64", "pwrite64", "mmap", "munmap")
	register(CategoryDirectory, "mkdir", "mkdirat", "rmdir", "mknod", "mknodat")
	register(CategoryExtendedAttribute, "getxattr", "lgetxattr", "fgetxattr", "setxattr", "lsetxattr",
		"fsetxattr", "listxattr", "llistxattr", "flistxattr")
	register(CategoryMetadata, "open_variadic", "open", "creat", "creat64", "openat_variadic", "openat",
		"open64_variadic", "open64", "close", "sync", "fsync", "truncate", "statfs", "fstatfs", "statfs64",
		"fstatfs64", "unlink", "unlinkat", "rename", "renameat", "fopen", "fopen64", "fclose")
	register(CategorySpecial, "socket", "fcntl")
}

// CategoryOf returns the category of an operation name.
func CategoryOf(op string) Category {
	if c, ok := categories[op]; ok {
		return c
	}
	return CategoryUnknown
}

// Categories lists every known category, unknown last.
func Categories() []Category {
	return []Category{
		CategoryData, CategoryDirectory, CategoryExtendedAttribute,
		CategoryMetadata, CategorySpecial, CategoryUnknown,
	}
}
