package nickname

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "bright", "gentle", "brave", "calm", "swift",
	"silent", "bouncy", "fuzzy", "plucky", "merry", "peppy", "quiet", "lucky", "witty", "sunny",
}

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"duckling", "fawn", "lamb", "porcupine", "raccoon", "beaver", "seahorse", "dolphin", "narwhal",
	"penguin", "flamingo", "pelican", "sparrow", "robin", "toucan", "parrot", "canary", "owl", "lynx",
}

var extras = []string{
	"comet", "orbit", "nebula", "pebble", "lantern", "ember", "maple", "breeze", "pixel", "echo",
	"willow", "meadow", "cocoa", "toffee", "biscuit", "sprout", "glimmer", "marble", "poppy", "twig",
}
